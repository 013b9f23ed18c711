package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"equityrunner/src/database"
	"equityrunner/src/executors"
	"equityrunner/src/repository"
	"equityrunner/src/server"
	"equityrunner/src/utils"
	"equityrunner/src/wallet"
)

var (
	PORT     = os.Getenv("SERVER_PORT")
	APP_NAME = os.Getenv("APP_NAME")
)

func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		level = logger.DebugLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logger.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	SetupLogger()
	defer handlePanic()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	cfg := executors.GetConfig()
	holidays, err := utils.ParseHolidays(cfg.Holidays)
	if err != nil {
		logger.WithError(err).Fatal("Invalid holiday configuration")
	}

	ledger, err := wallet.Load(context.Background(), repository.NewWalletRepository(), cfg.StartingCash, holidays)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load wallet ledger")
	}

	if PORT == "" {
		PORT = server.GetConfig().Port
	}
	server.StartServer(PORT, ledger)
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
	}
	//nolint
	time.Sleep(time.Second * 5)
}
