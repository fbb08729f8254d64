// Command utmctl is the administrative CLI for the engine. It speaks the
// NATS command subjects: submit and close operations, create and delete
// volume reservations and restricted flight volumes, and watch lifecycle
// events.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/u-space/utm-core/internal/ingest"
	"github.com/u-space/utm-core/internal/notify"
)

var (
	natsURL string
	timeout time.Duration
	logger  *zap.SugaredLogger
)

func main() {
	zl, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "utmctl: init logger: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()
	logger = zl.Sugar()

	root := &cobra.Command{
		Use:           "utmctl",
		Short:         "administer the utm deconfliction engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&natsURL, "nats", nats.DefaultURL, "NATS server URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	root.AddCommand(operationCmd(), uvrCmd(), rfvCmd(), watchCmd())

	if err := root.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func operationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "operation", Short: "manage operations"}

	var file string
	submit := &cobra.Command{
		Use:   "submit",
		Short: "submit an operation from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return request(ingest.SubjectCmdOperationSubmit, payload)
		},
	}
	submit.Flags().StringVarP(&file, "file", "f", "", "operation JSON file")
	submit.MarkFlagRequired("file")

	var gufi, reason string
	close := &cobra.Command{
		Use:   "close",
		Short: "force-close an operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]string{"gufi": gufi, "reason": reason})
			if err != nil {
				return err
			}
			return request(ingest.SubjectCmdOperationClose, payload)
		},
	}
	close.Flags().StringVar(&gufi, "gufi", "", "operation GUFI")
	close.Flags().StringVar(&reason, "reason", "", "closure reason")
	close.MarkFlagRequired("gufi")

	cmd.AddCommand(submit, close)
	return cmd
}

func uvrCmd() *cobra.Command {
	return volumeCmd("uvr", "manage volume reservations",
		ingest.SubjectCmdReservationNew, ingest.SubjectCmdReservationDel)
}

func rfvCmd() *cobra.Command {
	return volumeCmd("rfv", "manage restricted flight volumes",
		ingest.SubjectCmdRestrictedNew, ingest.SubjectCmdRestrictedDel)
}

// volumeCmd builds the create/delete pair shared by reservations and
// restricted volumes.
func volumeCmd(use, short, createSubject, deleteSubject string) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: short}

	var file string
	create := &cobra.Command{
		Use:   "create",
		Short: "create from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return request(createSubject, payload)
		},
	}
	create.Flags().StringVarP(&file, "file", "f", "", "JSON file")
	create.MarkFlagRequired("file")

	var id string
	del := &cobra.Command{
		Use:   "delete",
		Short: "soft-delete by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]string{"id": id})
			if err != nil {
				return err
			}
			return request(deleteSubject, payload)
		},
	}
	del.Flags().StringVar(&id, "id", "", "volume id")
	del.MarkFlagRequired("id")

	cmd.AddCommand(create, del)
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "stream lifecycle events and admin alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			nc, err := connect()
			if err != nil {
				return err
			}
			defer nc.Drain()

			print := func(msg *nats.Msg) {
				logger.Infow("event", "subject", msg.Subject, "payload", string(msg.Data))
			}
			if _, err := nc.Subscribe(notify.SubjectStateChange, print); err != nil {
				return err
			}
			if _, err := nc.Subscribe(notify.SubjectAdminAlert, print); err != nil {
				return err
			}
			logger.Infow("watching", "url", natsURL)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			return nil
		},
	}
}

func connect() (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL, nats.Name("utmctl"), nats.Timeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", natsURL, err)
	}
	return nc, nil
}

// request sends one command and prints the engine's reply.
func request(subject string, payload []byte) error {
	nc, err := connect()
	if err != nil {
		return err
	}
	defer nc.Drain()

	msg, err := nc.Request(subject, payload, timeout)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}

	var reply ingest.CommandReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("malformed reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("command rejected: %s", reply.Error)
	}
	logger.Infow("ok", "id", reply.ID, "state", reply.State, "warning", reply.Error)
	return nil
}
