package config

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ReloadFunc receives the configuration produced by a successful reload.
type ReloadFunc func(cfg *Config)

var (
	// reloadMu prevents concurrent reload attempts
	reloadMu sync.Mutex

	// signalMu protects stopChan and doneChan
	signalMu sync.Mutex

	// stopChan signals the handler goroutine to stop
	stopChan chan struct{}

	// doneChan is closed when the handler goroutine exits
	doneChan chan struct{}
)

// SetupSignalHandler starts a goroutine that reloads the config on SIGHUP
// and hands the result to onReload. A failed reload keeps the previous
// values and does not call onReload. SIGHUPs that arrive during a reload
// are dropped. Calling it again replaces the previous handler.
func SetupSignalHandler(onReload ReloadFunc) {
	StopSignalHandler()

	signalMu.Lock()
	defer signalMu.Unlock()

	sigCh := make(chan os.Signal, 1)
	stop := make(chan struct{})
	done := make(chan struct{})
	stopChan, doneChan = stop, done

	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer close(done)
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				handleReloadSignal(onReload)
			case <-stop:
				return
			}
		}
	}()
}

func handleReloadSignal(onReload ReloadFunc) {
	if !reloadMu.TryLock() {
		slog.Debug("SIGHUP received during reload; ignoring")
		return
	}
	defer reloadMu.Unlock()

	slog.Info("received SIGHUP; reloading config")
	if err := Reload(); err != nil {
		return
	}

	cfg, err := Current()
	if err != nil {
		slog.Error("reloaded config is invalid; keeping current session", "error", err)
		return
	}
	if onReload != nil {
		onReload(cfg)
	}
}

// StopSignalHandler stops the signal handler goroutine and waits for it to exit.
func StopSignalHandler() {
	signalMu.Lock()

	if stopChan == nil {
		signalMu.Unlock()
		return
	}

	close(stopChan)
	stopChan = nil
	localDone := doneChan
	doneChan = nil
	signalMu.Unlock()

	// Wait for goroutine to finish outside of lock
	<-localDone
}
