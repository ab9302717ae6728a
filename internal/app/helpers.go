package app

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// NormalizeLocalAddr keeps the HTTP surface on localhost unless a concrete
// interface address is given, and returns the listen address and its URL.
func NormalizeLocalAddr(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}
	return a, "http://" + a
}

func WaitTCP(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = c.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s", addr)
}

func logBanner(dir, cfgPath string) {
	log.Info("────────────────────────────────────────")
	log.Info("Lens host")
	log.Infof(" App folder  : %s", dir)
	log.Infof(" Config file : %s", cfgPath)
	log.Info("────────────────────────────────────────")
}
