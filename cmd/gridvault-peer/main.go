// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

// gridvault-peer runs a storage peer: a share store served over the
// wire protocol, persisted in bolt databases under --base-path.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/gridvault/gridvault/pkg/cfgstruct"
	"github.com/gridvault/gridvault/pkg/sharestore"
	"github.com/gridvault/gridvault/pkg/sharestore/ssserver"
	"github.com/gridvault/gridvault/storage/boltdb"
)

var cfg struct {
	Address  string `help:"address to listen on" default:":7777"`
	BasePath string `help:"directory for the peer's databases" default:"$HOME/.gridvault/peer"`
	Store    sharestore.Config
}

func main() {
	flags := pflag.NewFlagSet("gridvault-peer", pflag.ExitOnError)
	cfgstruct.Bind(flags, &cfg)
	_ = flags.Parse(os.Args[1:])

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Fatal("peer exited", zap.Error(err))
	}
}

func run(log *zap.Logger) (err error) {
	basePath := os.ExpandEnv(cfg.BasePath)
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return errs.Wrap(err)
	}

	shares, err := boltdb.New(filepath.Join(basePath, "shares.db"), "shares")
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, shares.Close()) }()

	slots, err := boltdb.New(filepath.Join(basePath, "slots.db"), "slots")
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, slots.Close()) }()

	db, err := sharestore.New(log.Named("sharestore"), shares, slots, cfg.Store)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    cfg.Address,
		Handler: ssserver.New(log.Named("ssserver"), db),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	log.Info("peer listening", zap.String("address", cfg.Address))
	err = server.ListenAndServe()
	if err == http.ErrServerClosed {
		err = nil
	}
	return err
}
