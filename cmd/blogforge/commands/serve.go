package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/jinford/blogforge/internal/interface/rest"
)

// ServeAction はHTTPサーバを起動するコマンドのアクション
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	port := appCtx.Config.Server.Port
	if cmd.IsSet("port") {
		port = cmd.Int("port")
	}

	server := rest.NewServer(appCtx.Container.Supervisor, appCtx.Logger(), port)
	return server.Start(ctx)
}
