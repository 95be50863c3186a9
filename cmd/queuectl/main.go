// Command queuectl inspects and operates a running relay's durable queue.
//
//	queuectl list|size|clear|drain
//	queuectl inject -from +15550100 -body "text"
//	queuectl publish -from +15550100 -body "text"
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"smsrelay/internal/awsutil"
	"smsrelay/internal/config"
	"smsrelay/internal/domain"
	"smsrelay/internal/httpserver"
	sqsqueue "smsrelay/internal/queue/sqs"
	"smsrelay/internal/util"
	"smsrelay/internal/worker"
)

const usage = `usage: queuectl <command> [flags]

commands:
  list      print queued entries
  size      print the number of queued entries
  clear     drop every queued entry
  drain     run one drain pass now and print its stats
  inject    post an inbound sms to the relay webhook
  publish   publish an inbound sms to the SQS source queue
`

type ctl struct {
	cfg  config.CtlConfig
	http *http.Client
	out  io.Writer
	// publisher is built lazily for the publish command.
	publisher func(ctx context.Context) (publisher, error)
}

type publisher interface {
	Publish(ctx context.Context, in domain.InboundSMS) error
}

func main() {
	cfg := config.LoadCtl()
	c := &ctl{cfg: cfg, http: &http.Client{Timeout: 60 * time.Second}, out: os.Stdout}
	c.publisher = c.sqsPublisher

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	if err := c.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "queuectl:", err)
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func (c *ctl) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.out, usage)
		return flag.ErrHelp
	}
	switch args[0] {
	case "list":
		return c.list(ctx)
	case "size":
		return c.size(ctx)
	case "clear":
		return c.do(ctx, http.MethodDelete, "/v1/queue", nil, nil)
	case "drain":
		var stats worker.DrainStats
		if err := c.do(ctx, http.MethodPost, "/v1/queue/drain", nil, &stats); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "offline=%t attempted=%d delivered=%d retried=%d evicted=%d missing=%d\n",
			stats.Offline, stats.Attempted, stats.Delivered, stats.Retried, stats.Evicted, stats.Missing)
		return nil
	case "inject", "publish":
		in, err := parseInbound(args[0], args[1:])
		if err != nil {
			return err
		}
		if args[0] == "inject" {
			return c.inject(ctx, in)
		}
		p, err := c.publisher(ctx)
		if err != nil {
			return err
		}
		return p.Publish(ctx, in)
	default:
		fmt.Fprint(c.out, usage)
		return fmt.Errorf("unknown command %q: %w", args[0], flag.ErrHelp)
	}
}

type queueResponse struct {
	Size    int                  `json:"size"`
	Entries []domain.QueuedEntry `json:"entries"`
}

func (c *ctl) list(ctx context.Context) error {
	var q queueResponse
	if err := c.do(ctx, http.MethodGet, "/v1/queue", nil, &q); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPHONE\tRETRIES\tCREATED\tMESSAGE")
	for _, e := range q.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.PhoneNumber, e.RetryCount,
			time.UnixMilli(e.CreatedAt).UTC().Format(time.RFC3339), preview(e.Message.Message))
	}
	return tw.Flush()
}

func (c *ctl) size(ctx context.Context) error {
	var q queueResponse
	if err := c.do(ctx, http.MethodGet, "/v1/queue", nil, &q); err != nil {
		return err
	}
	fmt.Fprintln(c.out, q.Size)
	return nil
}

func (c *ctl) inject(ctx context.Context, in domain.InboundSMS) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	header := map[string]string{}
	if c.cfg.WebhookSecret != "" {
		header[httpserver.SignatureHeader] = httpserver.Sign(c.cfg.WebhookSecret, body)
	}
	return c.doRaw(ctx, http.MethodPost, "/v1/sms/inbound", body, header, nil)
}

func (c *ctl) do(ctx context.Context, method, path string, body []byte, out any) error {
	header := map[string]string{}
	if c.cfg.AdminToken != "" {
		header["Authorization"] = "Bearer " + c.cfg.AdminToken
	}
	return c.doRaw(ctx, method, path, body, header, out)
}

func (c *ctl) doRaw(ctx context.Context, method, path string, body []byte, header map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.RelayURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *ctl) sqsPublisher(ctx context.Context) (publisher, error) {
	if c.cfg.SQSQueueURL == "" {
		return nil, errors.New("SQS_QUEUE_URL is not set")
	}
	client, err := awsutil.NewSQSClient(ctx, c.cfg.AWSRegion, c.cfg.LocalstackEndpoint)
	if err != nil {
		return nil, err
	}
	return &sqsqueue.Producer{SQS: client, QueueURL: c.cfg.SQSQueueURL}, nil
}

func parseInbound(name string, args []string) (domain.InboundSMS, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	from := fs.String("from", "", "originating address")
	body := fs.String("body", "", "message text")
	ts := fs.Int64("ts", 0, "source timestamp in epoch millis (default now)")
	if err := fs.Parse(args); err != nil {
		return domain.InboundSMS{}, err
	}
	if *ts == 0 {
		*ts = util.NowMillis()
	}
	return domain.InboundSMS{OriginatingAddress: *from, Body: *body, Timestamp: *ts}, nil
}

func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > 40 {
		return string(r[:40]) + "…"
	}
	return s
}
