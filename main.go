package main

import (
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/braid-game/braid/api"
	"github.com/braid-game/braid/config"
	"github.com/braid-game/braid/ledger/outbox"
	"github.com/braid-game/braid/service"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/sirupsen/logrus"
)

// Global variables for dependencies
var (
	appLogger     *logrus.Entry
	ledgerOutbox  *outbox.Outbox
	sessionServer *service.SessionServer
	apiServer     *api.Server
	tcpServer     *api.TCPServer
	shutdownOnce  sync.Once
)

// shutdown releases whatever has been initialized so far. Stopping the
// TCP listener makes its serve loop return, so the Once guard keeps the
// resulting fatalf from re-entering.
func shutdown() {
	shutdownOnce.Do(func() {
		if tcpServer != nil {
			tcpServer.Stop()
		}
		if ledgerOutbox != nil {
			if err := ledgerOutbox.Close(); err != nil {
				appLogger.Errorf("Closing ledger outbox: %v", err)
			}
		}
	})
}

// fatalf logs, cleans up and exits. Every fatal path funnels through
// here so the outbox always gets a clean close.
func fatalf(format string, args ...any) {
	appLogger.Errorf(format, args...)
	shutdown()
	os.Exit(1)
}

func initLedgerOutbox() {
	box, err := outbox.Open(config.Envs.OutboxPath)
	if err != nil {
		fatalf("Opening ledger outbox: %v", err)
	}
	ledgerOutbox = box
	appLogger.Info("Ledger outbox initialized")
}

func initSessionServer() {
	serverKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		fatalf("Generating server signing key: %v", err)
	}

	server, err := service.NewSessionServer(&service.Config{
		MazeWidth:       config.Envs.MazeWidth,
		MazeHeight:      config.Envs.MazeHeight,
		MaxTurns:        config.Envs.MaxTurns,
		InitialTreasure: config.Envs.InitialTreasure,
		AnteAmount:      config.Envs.AnteAmount,
		ServerAddress:   config.Envs.ServerAddress,
		ServerKey:       serverKey,
		Journal:         ledgerOutbox,
		Logger:          logrus.WithField("component", "SESSION-SERVER"),
	})
	if err != nil {
		fatalf("Creating session server: %v", err)
	}
	sessionServer = server
	appLogger.Info("Session server initialized")
}

func initTransports() {
	tcpServer = api.NewTCPServer(sessionServer, logrus.WithField("component", "TCP"))
	apiServer = api.NewServer(sessionServer, logrus.WithField("component", "API"))
	appLogger.Info("Transports initialized")
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	appLogger = logrus.WithField("component", "APP")

	initLedgerOutbox()
	initSessionServer()
	initTransports()

	go func() {
		addr := fmt.Sprintf("%s:%d", config.Envs.HostIP, config.Envs.TCPPort)
		if err := tcpServer.ListenAndServe(addr); err != nil {
			fatalf("Serving TCP: %v", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", config.Envs.HostIP, config.Envs.HTTPPort)
	appLogger.Infof("Serving HTTP at: %s", addr)
	if err := http.ListenAndServe(addr, apiServer); err != nil {
		fatalf("Serving HTTP: %v", err)
	}
}
