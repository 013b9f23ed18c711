package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"equityrunner/cmd/runner"
	"equityrunner/src/database"
	"equityrunner/src/repository"
	"equityrunner/src/utils"
	"equityrunner/src/wallet"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "equityrunner CMD"
	app.Usage = "The equityrunner command line interface"

	app.Commands = []cli.Command{
		runnerCMD,
		walletInitCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	runnerCMD = cli.Command{
		Name:        "runner",
		Usage:       "run the trading session loop",
		Action:      runnerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run one trading session: admit watchlist symbols, poll prices, sweep positions, settle at close`,
	}
	walletInitCMD = cli.Command{
		Name:      "wallet-init",
		Usage:     "create or reset the wallet ledger baseline",
		Action:    walletInitAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.Float64Flag{
				Name:  "amount",
				Usage: "starting amount for the wallet ledger",
			},
		},
		Description: `Set the wallet starting amount and restart the return clock`,
	}
)

func runnerAction(_ *cli.Context) error {

	logrus.Info("Starting runner CMD")

	r := &runner.Runner{}
	err := r.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func walletInitAction(c *cli.Context) error {

	amount := c.Float64("amount")
	if amount <= 0 {
		return fmt.Errorf("--amount must be positive, got %f", amount)
	}

	logrus.WithField("amount", amount).Info("Starting wallet-init CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	ctx := context.Background()
	ledger, err := wallet.Load(ctx, repository.NewWalletRepository(), amount, utils.HolidaySet{})
	if err != nil {
		return err
	}

	if err := ledger.ResetStartingAmount(ctx, amount, time.Now()); err != nil {
		return err
	}

	logrus.WithField("starting_amount", amount).Info("Wallet baseline reset")
	return nil
}
