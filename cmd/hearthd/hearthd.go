// Command hearthd serves the hearth gateway to a local front end.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ts4z/hearth/app"
	"github.com/ts4z/hearth/config"
	"github.com/ts4z/hearth/gateway"
	"github.com/ts4z/hearth/logging"
	"github.com/ts4z/hearth/session"
)

func main() {
	config.Init()
	undo := logging.Init(config.Dev())
	defer undo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(app.FromConfig())
	if err != nil {
		log.Fatalf("can't build client: %v", err)
	}
	if err := a.Restore(ctx); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			zap.S().Infof("hearthd: no saved session; log in through the front end")
		} else {
			zap.S().Warnf("hearthd: can't restore session: %v", err)
		}
	}

	gw := gateway.New(&gateway.Config{
		App:            a,
		AllowedOrigins: config.AllowedOrigins(),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Serve(ctx, config.ListenAddress())
	})
	g.Go(func() error {
		if err := a.Watch(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	err = g.Wait()

	gw.Close()
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cerr := a.Close(closeCtx); cerr != nil {
		zap.S().Warnf("hearthd: %v", cerr)
	}
	if err != nil {
		zap.S().Errorf("hearthd: %v", err)
		undo()
		os.Exit(1)
	}
}
