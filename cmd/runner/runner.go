package runner

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"equityrunner/src/database"
	"equityrunner/src/executors"
)

// Runner is the trading-session entrypoint behind the `runner` CLI command.
type Runner struct{}

func (t *Runner) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	logrus.WithField("app", config.AppName).Info("Starting trading session loop")

	if err := executors.StartLoop(ctx); err != nil {
		logrus.WithError(err).Error("Session loop failed")
		return err
	}

	return nil
}
