package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ngtfieldbus/trust-broker/internal/arbiter"
	"github.com/ngtfieldbus/trust-broker/internal/certutil"
	"github.com/ngtfieldbus/trust-broker/internal/component"
	"github.com/ngtfieldbus/trust-broker/internal/config"
	"github.com/ngtfieldbus/trust-broker/internal/controller"
	"github.com/ngtfieldbus/trust-broker/internal/transport/coap"
	"github.com/ngtfieldbus/trust-broker/internal/transport/dtls"
)

var configPath string

func dialArbiterClient(ctx context.Context, cfg config.Controller) (*controller.Client, func(), error) {
	certificate, err := certutil.LoadCertificate(cfg.CertFile)
	if err != nil {
		return nil, nil, err
	}
	privateKey, err := certutil.LoadPrivateKey(cfg.KeyFile)
	if err != nil {
		return nil, nil, err
	}
	rootCAs, err := certutil.LoadRootCAPool(cfg.RootCaFile)
	if err != nil {
		return nil, nil, err
	}

	dtlsCfg := &dtls.Config{
		Certificate:      certificate,
		PrivateKey:       privateKey,
		RootCAs:          rootCAs,
		HandshakeTimeout: 5 * time.Second,
	}
	session, err := dtls.Dial(ctx, cfg.ArbiterAddr, dtlsCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("dial arbiter: %w", err)
	}
	return controller.NewClient(session), func() { session.Close() }, nil
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List devices registered with the Arbiter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadController(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client, closeFn, err := dialArbiterClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			devices, err := client.ListDevices(ctx)
			if err != nil {
				return err
			}
			encoded, err := json.MarshalIndent(devices, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		},
	}
}

func newCallParameterCommand() *cobra.Command {
	var deviceArg, deviceAddr, parameter, value string

	cmd := &cobra.Command{
		Use:   "call-parameter",
		Short: "Request a token and GET (or, with --value, PUT) a device parameter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadController(configPath)
			if err != nil {
				return err
			}
			deviceCid, err := component.Parse(deviceArg)
			if err != nil {
				return fmt.Errorf("parse --device: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			arbiterClient, closeArbiter, err := dialArbiterClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeArbiter()

			write := value != ""
			var tokenResp arbiter.ControlTokenResponse
			if write {
				tokenResp, err = arbiterClient.RequestControlToken(ctx, cfg.Cid, []component.Id{deviceCid}, nil, []string{parameter})
			} else {
				tokenResp, err = arbiterClient.RequestControlToken(ctx, cfg.Cid, []component.Id{deviceCid}, []string{parameter}, nil)
			}
			if err != nil {
				return fmt.Errorf("request control token: %w", err)
			}
			grant, ok := tokenResp.Tokens[deviceCid]
			if !ok {
				return fmt.Errorf("arbiter granted no token for device %s", deviceCid)
			}

			certificate, err := certutil.LoadCertificate(cfg.CertFile)
			if err != nil {
				return err
			}
			privateKey, err := certutil.LoadPrivateKey(cfg.KeyFile)
			if err != nil {
				return err
			}
			rootCAs, err := certutil.LoadRootCAPool(cfg.RootCaFile)
			if err != nil {
				return err
			}
			deviceSession, err := dtls.Dial(ctx, deviceAddr, &dtls.Config{
				Certificate:      certificate,
				PrivateKey:       privateKey,
				RootCAs:          rootCAs,
				HandshakeTimeout: 5 * time.Second,
			})
			if err != nil {
				return fmt.Errorf("dial device: %w", err)
			}
			defer deviceSession.Close()

			var resp coap.Message
			if write {
				resp, err = controller.WriteParameter(ctx, deviceSession, parameter, grant, value)
			} else {
				resp, err = controller.ReadParameter(ctx, deviceSession, parameter, grant)
			}
			if err != nil {
				return fmt.Errorf("call parameter: %w", err)
			}
			fmt.Printf("%s %s\n", resp.Code, string(resp.Payload))
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceArg, "device", "", "target device CID")
	cmd.Flags().StringVar(&deviceAddr, "device-addr", "", "target device host:port")
	cmd.Flags().StringVar(&parameter, "parameter", "", "parameter name")
	cmd.Flags().StringVar(&value, "value", "", "value to write; omit for a read")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("device-addr")
	_ = cmd.MarkFlagRequired("parameter")
	return cmd
}

func newRequestTokenCommand() *cobra.Command {
	var deviceArg string
	var readParams, writeParams []string

	cmd := &cobra.Command{
		Use:   "request-token",
		Short: "Request a control token for a device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadController(configPath)
			if err != nil {
				return err
			}
			deviceCid, err := component.Parse(deviceArg)
			if err != nil {
				return fmt.Errorf("parse --device: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client, closeFn, err := dialArbiterClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			resp, err := client.RequestControlToken(ctx, cfg.Cid, []component.Id{deviceCid}, readParams, writeParams)
			if err != nil {
				return err
			}
			fmt.Println(resp.Tokens[deviceCid])
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceArg, "device", "", "target device CID")
	cmd.Flags().StringSliceVar(&readParams, "read", nil, "parameters to request read access to")
	cmd.Flags().StringSliceVar(&writeParams, "write", nil, "parameters to request write access to")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	root := &cobra.Command{
		Use:  "controller [command]",
		Long: "Non-interactive client exercising the Arbiter/Device core: discovery, control-token issuance, and parameter access",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to config.json")
	root.AddCommand(newListCommand(), newRequestTokenCommand(), newCallParameterCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
