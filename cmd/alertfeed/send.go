package main

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/rickgao/alert-feed/internal/api"
	"github.com/rickgao/alert-feed/internal/connection"
	"github.com/rickgao/alert-feed/internal/model"
	"github.com/rickgao/alert-feed/internal/subscription"
)

func cmdSend(opts *globalOptions) *cli.Command {
	var (
		message  string
		severity string
		userID   string
		publish  bool
	)
	return &cli.Command{
		Name:  "send",
		Usage: "Create an alert through the REST API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "message",
				Aliases:     []string{"m"},
				Usage:       "Alert text",
				Required:    true,
				Destination: &message,
			},
			&cli.StringFlag{
				Name:        "type",
				Aliases:     []string{"t"},
				Usage:       "Severity [info|success|warning|urgent]",
				Value:       string(model.SeverityInfo),
				Destination: &severity,
			},
			&cli.StringFlag{
				Name:        "user",
				Aliases:     []string{"u"},
				Usage:       "Recipient user ID (empty: broadcast)",
				Destination: &userID,
			},
			&cli.BoolFlag{
				Name:        "publish",
				Usage:       "Also publish the created alert on the broker topic",
				Destination: &publish,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}

			sev := model.ParseSeverity(severity)
			created, err := newAPIClient(cfg, logger).CreateAlert(ctx, api.CreateAlertRequest{
				Message: message,
				Type:    string(sev),
				UserID:  userID,
			})
			if err != nil {
				return goerr.Wrap(err, "create alert")
			}

			alert, err := created.ToModel()
			if err != nil {
				return goerr.Wrap(err, "decode created alert")
			}
			logger.Info("alert created", "id", alert.ID, "severity", alert.Severity, "user", userID)

			if publish {
				topics := subscription.TopicConfig{
					Global:         cfg.Broker.GlobalTopic,
					PersonalPrefix: cfg.Broker.PersonalPrefix,
				}
				topic := topics.GlobalTopic()
				if userID != "" {
					topic = topics.PersonalTopic(userID)
				}
				if err := publishAlert(ctx, managerConfig(cfg), identity(cfg), topic, created); err != nil {
					return err
				}
				logger.Info("alert published", "topic", topic)
			}

			_, err = fmt.Fprintln(cmd.Root().Writer, alert.ID)
			return err
		},
	}
}

// publishAlert connects once, publishes payload on topic and closes.
func publishAlert(ctx context.Context, mcfg connection.ManagerConfig, id connection.Identity, topic string, payload any) error {
	mcfg.Retry.MaxAttempts = 0
	transport := connection.NewManager(mcfg, nil)
	defer transport.Close(context.WithoutCancel(ctx))

	if err := transport.Connect(ctx, id); err != nil {
		return goerr.Wrap(err, "connect broker", goerr.V("url", mcfg.Client.URL))
	}
	if !transport.Publish(topic, payload) {
		return goerr.New("publish dropped", goerr.V("topic", topic))
	}
	return nil
}
