package executor

// Some information about docker and pid1 process and zombie problem:
// https://blog.phusion.nl/2015/01/20/docker-and-the-pid-1-zombie-reaping-problem/
// The code hereafter is based on go-reaper (https://github.com/ramr/go-reaper).

/*  Note:  This is a *nix only implementation.  */

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/deckhouse/deckhouse/pkg/log"
)

type ReaperConfig struct {
	Pid              int
	Options          int
	DisablePid1Check bool
}

// sigChildHandler pushes SIGCHLD onto the notifications channel if there is a waiter.
func sigChildHandler(ctx context.Context, notifications chan os.Signal) {
	sigs := make(chan os.Signal, 3)
	signal.Notify(sigs, syscall.SIGCHLD)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			select {
			case notifications <- sig:
			default:
				// Notifications channel is full. The reaper waits
				// for any child (pid=-1), so nothing is lost.
			}
		}
	}
}

func reapChildren(ctx context.Context, config ReaperConfig, logger *log.Logger) {
	logger.Debug("Start WAIT4 loop")

	notifications := make(chan os.Signal, 1)
	go sigChildHandler(ctx, notifications)

	for {
		select {
		case <-ctx.Done():
			return
		case <-notifications:
		}

		func() {
			// Running commands wait for their own children.
			ExecutorLock.Lock()
			defer ExecutorLock.Unlock()

			for {
				var wstatus syscall.WaitStatus

				pid, err := syscall.Wait4(config.Pid, &wstatus, config.Options, nil)
				for err == syscall.EINTR {
					pid, err = syscall.Wait4(config.Pid, &wstatus, config.Options, nil)
				}

				if err == syscall.ECHILD || pid <= 0 {
					break
				}

				logger.Debug("Grim reaper cleanup",
					slog.Int("pid", pid),
					slog.Int("wstatus", int(wstatus)))
			}
		}()
	}
}

// Reap starts reaping children in the background if the process runs as pid 1.
func Reap(ctx context.Context, logger *log.Logger) {
	StartReaper(ctx, ReaperConfig{
		Pid:              -1,
		Options:          0,
		DisablePid1Check: false,
	}, logger)
}

// StartReaper allows to bypass the pid 1 check, so handle with care.
func StartReaper(ctx context.Context, config ReaperConfig, logger *log.Logger) {
	logger = logger.With(slog.String("operator.component", "zombieReaper"))
	if !config.DisablePid1Check && os.Getpid() != 1 {
		logger.Debug("Grim reaper disabled, pid not 1")
		return
	}

	go reapChildren(ctx, config, logger)
}
