// main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"github.com/petervdpas/lens/internal/app"
	"github.com/petervdpas/lens/internal/bridge"
	"github.com/petervdpas/lens/internal/config"
	"github.com/petervdpas/lens/internal/logbuf"
	"github.com/petervdpas/lens/internal/tui"
	"github.com/petervdpas/lens/internal/util"
	"github.com/petervdpas/lens/internal/wsbridge"
)

var log = logging.Logger("lens")

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

const tuiLogFile = "lens.log"

var rootCmd = &cobra.Command{
	Use:           "lens [dir]",
	Short:         "Lens - desktop app shell bridge",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		serve, _ := cmd.Flags().GetBool("serve")
		env, err := loadEnv(dirArg(args), "")
		if err != nil {
			return err
		}
		return runDesktopApp(env, serve)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve [dir]",
	Short: "Serve the page and the websocket bridge over HTTP",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		open, _ := cmd.Flags().GetBool("open")

		env, err := loadEnv(dirArg(args), "")
		if err != nil {
			return err
		}
		if addr == "" {
			addr = env.cfg.Server.HTTPAddr
		}

		ctx, cancel := signalContext()
		defer cancel()

		rt, err := env.runtime(ctx)
		if err != nil {
			return err
		}
		listenAddr, url := app.NormalizeLocalAddr(addr)
		if _, err := rt.Serve(listenAddr); err != nil {
			rt.Close()
			return err
		}
		fmt.Printf("Lens page: %s\n", url)

		if open {
			go func() {
				if err := app.WaitTCP(listenAddr, 5*time.Second); err != nil {
					log.Warnf("browser: %v", err)
					return
				}
				if err := util.OpenURL(url); err != nil {
					log.Warnf("browser: %v", err)
				}
			}()
		}

		rt.Wait(ctx)
		return nil
	},
}

var tuiCmd = &cobra.Command{
	Use:   "tui [dir]",
	Short: "Run the terminal UI against a local or remote host",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		connect, _ := cmd.Flags().GetString("connect")
		serve, _ := cmd.Flags().GetBool("serve")

		ctx, cancel := signalContext()
		defer cancel()

		if connect != "" {
			if err := setupLogging("info", tuiLogFile); err != nil {
				return err
			}
			ctl, done, err := tui.Remote(ctx, connect)
			if err != nil {
				return err
			}
			defer ctl.Close()
			return tui.Run(ctx, "Lens · "+connect, ctl, done)
		}

		dir := dirArg(args)
		env, err := loadEnv(dir, filepath.Join(dir, tuiLogFile))
		if err != nil {
			return err
		}
		rt, err := env.runtime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		if serve {
			listenAddr, _ := app.NormalizeLocalAddr(env.cfg.Server.HTTPAddr)
			if _, err := rt.Serve(listenAddr); err != nil {
				return err
			}
		}

		ctl := tui.Local(rt.App)
		defer ctl.Close()
		return tui.Run(ctx, env.cfg.App.Name, ctl, rt.Done())
	},
}

var emitCmd = &cobra.Command{
	Use:   "emit name [args...]",
	Short: "Send one command to a running host",
	Long: "Send one command to a running host over its websocket bridge.\n" +
		"Arguments are decoded as JSON when possible and sent as strings otherwise.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		wait, _ := cmd.Flags().GetDuration("wait")

		if err := setupLogging("warn", ""); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		c, err := wsbridge.Dial(ctx, url)
		if err != nil {
			return err
		}
		defer c.Close()

		cmdArgs := make([]any, 0, len(args))
		cmdArgs = append(cmdArgs, args[0])
		for _, a := range args[1:] {
			cmdArgs = append(cmdArgs, parseArg(a))
		}
		bc, ok := bridge.NewCommand(cmdArgs...)
		if !ok {
			return errors.New("empty command")
		}
		msg, err := bridge.Encode(bc)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		if err := c.Send(msg); err != nil {
			return err
		}
		if wait <= 0 {
			return nil
		}

		// Print host events until the wait window ends.
		wctx, wcancel := context.WithTimeout(ctx, wait)
		defer wcancel()
		go func() {
			<-wctx.Done()
			c.Close()
		}()
		return c.Listen(wctx, func(ev bridge.Event) {
			b, err := bridge.MarshalEvent(ev)
			if err != nil {
				return
			}
			fmt.Println(string(b))
		})
	},
}

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create or edit the config file interactively",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := filepath.Abs(dirArg(args))
		if err != nil {
			return fmt.Errorf("invalid app directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		cfgPath := filepath.Join(dir, config.FileName)
		cfg, _, err := config.Ensure(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = app.PromptInteractive(os.Stdin, cmd.OutOrStdout(), dir, cfgPath, cfg)
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", cfgPath)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Lens v%s\n", appVersion)
	},
}

func init() {
	rootCmd.Flags().Bool("serve", false, "also serve the page and websocket bridge")

	serveCmd.Flags().String("addr", "", "listen address (default from config)")
	serveCmd.Flags().Bool("open", false, "open the page in the default browser")

	tuiCmd.Flags().String("connect", "", "host URL to connect to instead of running one")
	tuiCmd.Flags().Bool("serve", false, "also serve the page and websocket bridge")

	emitCmd.Flags().String("url", "http://127.0.0.1:8720", "host URL")
	emitCmd.Flags().Duration("wait", 0, "print host events for this long after sending")

	rootCmd.AddCommand(serveCmd, tuiCmd, emitCmd, initCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is a loaded app directory with logging set up.
type env struct {
	dir     string
	cfgPath string
	cfg     config.Config
	logs    *logbuf.Buffer
}

func (e *env) runtime(ctx context.Context) (*app.Runtime, error) {
	return app.New(ctx, app.Options{
		Dir:     e.dir,
		CfgPath: e.cfgPath,
		Cfg:     e.cfg,
		Version: appVersion,
		Logs:    e.logs,
	})
}

// loadEnv resolves dir, creates its config when missing and sets up logging.
// An empty logFile logs to stderr.
func loadEnv(path, logFile string) (*env, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid app directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("app directory: %w", err)
	}

	cfgPath := filepath.Join(dir, config.FileName)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	config.ApplyEnv(&cfg)

	if err := setupLogging(cfg.Log.Level, logFile); err != nil {
		return nil, err
	}
	logs := logbuf.New(cfg.Log.BufferLines)
	logs.Capture()

	if created {
		log.Infof("created %s", cfgPath)
	}
	return &env{dir: dir, cfgPath: cfgPath, cfg: cfg, logs: logs}, nil
}

func setupLogging(level, file string) error {
	lvl, err := logging.LevelFromString(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	lc := logging.Config{
		Format: logging.ColorizedOutput,
		Level:  lvl,
		Stderr: file == "",
	}
	if file != "" {
		lc.Format = logging.PlaintextOutput
		lc.File = file
	}
	logging.SetupLogging(lc)
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func dirArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

func parseArg(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
