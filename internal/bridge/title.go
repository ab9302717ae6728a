package bridge

import "sync"

// Titler is anything with a mutable title: a browser document, a native
// window, or the in-memory Document below.
type Titler interface {
	Title() string
	SetTitle(title string)
}

// TitleTransport signals the host by setting the title to the message and
// immediately restoring the previous value. Both writes happen inside Send,
// so a synchronous title observer sees the transient value.
type TitleTransport struct {
	Target Titler
}

func (t TitleTransport) Send(msg string) error {
	if t.Target == nil {
		return ErrNoTransport
	}
	prev := t.Target.Title()
	t.Target.SetTitle(msg)
	t.Target.SetTitle(prev)
	return nil
}

type titleObserver struct {
	id int
	fn func(title string)
}

// Document is an in-memory titled document. Observers are called
// synchronously, in registration order, on every SetTitle.
type Document struct {
	mu        sync.Mutex
	title     string
	nextID    int
	observers []titleObserver
}

// NewDocument returns a document with the given initial title.
func NewDocument(title string) *Document {
	return &Document{title: title}
}

func (d *Document) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title
}

func (d *Document) SetTitle(title string) {
	d.mu.Lock()
	d.title = title
	obs := make([]titleObserver, len(d.observers))
	copy(obs, d.observers)
	d.mu.Unlock()

	for _, o := range obs {
		o.fn(title)
	}
}

// OnTitleChange registers fn and returns a function that removes it.
func (d *Document) OnTitleChange(fn func(title string)) (cancel func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.observers = append(d.observers, titleObserver{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, o := range d.observers {
			if o.id == id {
				d.observers = append(d.observers[:i], d.observers[i+1:]...)
				return
			}
		}
	}
}
