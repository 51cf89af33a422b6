package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// GatewayStartAction はリアルタイムゲートウェイを起動する
func GatewayStartAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close(ctx)

	port := appCtx.Config.Gateway.Port
	if p := cmd.Int("port"); p > 0 {
		port = p
	}

	hub, err := appCtx.Container.NewHub()
	if err != nil {
		return fmt.Errorf("リアルタイム購読の初期化に失敗: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           appCtx.Container.NewGateway(hub).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if hub != nil {
		g.Go(func() error {
			if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("リアルタイム購読が異常終了: %w", err)
			}
			return nil
		})
	} else {
		appCtx.Logger.Warn().Msg("cli: realtime is disabled, streams will report disabled")
	}

	g.Go(func() error {
		appCtx.Logger.Info().Int("port", port).Msg("cli: gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("サーバーの停止に失敗: %w", err)
		}
		appCtx.Logger.Info().Msg("cli: gateway stopped")
		return nil
	})

	return g.Wait()
}
