package switchboard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/igorsilveira/switchboard/pkg/a2a"
	"github.com/igorsilveira/switchboard/pkg/agents"
	"github.com/igorsilveira/switchboard/pkg/config"
	"github.com/igorsilveira/switchboard/pkg/push"
	"github.com/igorsilveira/switchboard/pkg/taskstate"
	"github.com/igorsilveira/switchboard/pkg/telemetry"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Talk to one agent directly, task by task",
	RunE:  runSend,
}

var (
	sendAgent        string
	sendSession      string
	sendHistory      bool
	sendPush         bool
	sendPushReceiver string
	sendToken        string
)

func init() {
	sendCmd.Flags().StringVar(&sendAgent, "agent", "http://localhost:10000", "agent base URL")
	sendCmd.Flags().StringVar(&sendSession, "session", "", "session ID (default: a new one)")
	sendCmd.Flags().BoolVar(&sendHistory, "history", false, "print the task history after each task")
	sendCmd.Flags().BoolVar(&sendPush, "push", false, "ask the agent for push notifications")
	sendCmd.Flags().StringVar(&sendPushReceiver, "push-receiver", "http://localhost:5000", "where to listen for push notifications")
	sendCmd.Flags().StringVar(&sendToken, "token", "", "bearer token for the agent")
}

// errQuit ends the session loop.
var errQuit = errors.New("quit")

func runSend(cmd *cobra.Command, args []string) error {
	logger := telemetry.SetupLogger(config.LogConfig{Level: "warn", Format: "text"}, "send", os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var pushTo string
	if sendPush {
		listener, err := startPushListener(ctx, sendAgent, sendPushReceiver, logger)
		if err != nil {
			return err
		}
		defer listener.Close()
		pushTo = strings.TrimRight(sendPushReceiver, "/") + "/notify"
	}

	reg, err := agents.NewRegistry(ctx, []agents.AgentConfig{{URL: sendAgent, Session: sendSession, Token: sendToken}}, agents.Options{
		Logger:  logger,
		PushURL: pushTo,
	})
	if err != nil {
		return err
	}
	tool, err := reg.Lookup(reg.Names()[0])
	if err != nil {
		return err
	}

	fmt.Println("======= Agent Card ========")
	card, _ := json.MarshalIndent(tool.Descriptor(), "", "  ")
	fmt.Println(string(card))

	var clientOpts []a2a.ClientOption
	if sendToken != "" {
		clientOpts = append(clientOpts, a2a.WithToken(sendToken))
	}
	client := a2a.NewClient(sendAgent, clientOpts...)

	for {
		taskID := agents.NewID()
		fmt.Println("=========  starting a new task ========")
		err := completeTask(ctx, tool, taskID)
		if errors.Is(err, errQuit) || errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		if err != nil {
			return err
		}
		if sendHistory {
			if err := printHistory(ctx, client, taskID); err != nil {
				fmt.Fprintf(os.Stderr, "history: %v\n", err)
			}
		}
	}
}

// completeTask sends turns under taskID until the agent stops asking for
// input.
func completeTask(ctx context.Context, tool agents.Tool, taskID string) error {
	for {
		var message, path string
		if err := huh.NewInput().
			Title("What do you want to send to the agent? (:q or quit to exit)").
			Value(&message).
			Run(); err != nil {
			return err
		}
		message = strings.TrimSpace(message)
		if message == ":q" || message == "quit" {
			return errQuit
		}
		if message == "" {
			continue
		}
		if err := huh.NewInput().
			Title("Select a file path to attach? (press enter to skip)").
			Value(&path).
			Run(); err != nil {
			return err
		}

		callArgs := agents.Args{Message: message, TaskID: taskID}
		if path = strings.TrimSpace(path); path != "" {
			part, err := filePart(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "attachment: %v\n", err)
				continue
			}
			callArgs.Attachments = []a2a.Part{part}
		}

		ch, err := tool.Invoke(ctx, callArgs)
		if err != nil {
			return err
		}
		var last agents.Event
		for ev := range ch {
			last = ev
			switch {
			case ev.Err != nil:
				fmt.Printf("error => %v\n", ev.Err)
			case ev.Fragment.Hidden:
				fmt.Printf("status => %s\n", strings.ReplaceAll(ev.Fragment.Text(), "\n", " "))
			default:
				fmt.Printf("stream event => %s\n", ev.Fragment.Text())
			}
		}
		if last.Err != nil || last.Outcome != taskstate.Continue {
			return nil
		}
		fmt.Println("======= input required =======")
	}
}

func filePart(path string) (a2a.Part, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return a2a.Part{}, err
	}
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	return a2a.Part{Type: a2a.PartTypeFile, File: &a2a.FileContent{
		Name:     filepath.Base(path),
		MimeType: mt,
		Bytes:    base64.StdEncoding.EncodeToString(data),
	}}, nil
}

func printHistory(ctx context.Context, client *a2a.Client, taskID string) error {
	n := 10
	task, err := client.GetTask(ctx, a2a.TaskQueryParams{ID: taskID, HistoryLength: &n})
	if err != nil {
		return err
	}
	fmt.Println("========= history ========")
	b, _ := json.MarshalIndent(task.History, "", "  ")
	fmt.Println(string(b))
	return nil
}

// startPushListener serves /notify at receiverURL, trusting keys published
// by the agent.
func startPushListener(ctx context.Context, agentURL, receiverURL string, logger *slog.Logger) (io.Closer, error) {
	u, err := url.Parse(receiverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid push receiver: %w", err)
	}
	verifier := push.NewVerifier(ctx)
	if err := verifier.AddAgent(ctx, agentURL, nil); err != nil {
		return nil, fmt.Errorf("loading agent keys: %w", err)
	}
	receiver := push.NewReceiver(push.ReceiverConfig{
		Verifier: verifier,
		Logger:   logger,
		OnTask: func(task a2a.Task) {
			b, _ := json.Marshal(task)
			fmt.Printf("\npush notification received => \n%s\n\n", b)
		},
	})

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("push listener: %w", err)
	}
	srv := &http.Server{Handler: receiver, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("push listener stopped", slog.String("err", err.Error()))
		}
	}()
	return srv, nil
}
