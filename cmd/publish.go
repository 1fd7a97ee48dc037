package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kilianp07/pubcontrol/core/item"
	"github.com/kilianp07/pubcontrol/infra/logger"
)

var publishOpts struct {
	channel string
	data    string
	format  string
	id      string
	prevID  string
	sync    bool
	timeout time.Duration
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish one item to every configured endpoint",
	RunE:  publishItem,
}

func init() {
	f := publishCmd.Flags()
	f.StringVar(&publishOpts.channel, "channel", "", "channel to publish on")
	f.StringVar(&publishOpts.data, "data", "", "item payload, decoded as JSON when valid")
	f.StringVar(&publishOpts.format, "format", "http-stream", "format name: http-stream, http-response or any raw key")
	f.StringVar(&publishOpts.id, "id", "", "item id, generated when empty")
	f.StringVar(&publishOpts.prevID, "prev-id", "", "previous item id")
	f.BoolVar(&publishOpts.sync, "sync", false, "publish in blocking mode")
	f.DurationVar(&publishOpts.timeout, "timeout", 30*time.Second, "overall publish timeout")
	_ = publishCmd.MarkFlagRequired("channel")
	rootCmd.AddCommand(publishCmd)
}

func publishItem(cmd *cobra.Command, args []string) error {
	it, err := buildItem(publishOpts.format, publishOpts.data)
	if err != nil {
		return err
	}
	id := publishOpts.id
	if id == "" {
		id = uuid.NewString()
	}
	it = it.WithID(id, publishOpts.prevID)

	svc, err := newService()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), publishOpts.timeout)
	defer cancel()

	pubErr := svc.Publish(ctx, publishOpts.channel, it, publishOpts.sync)
	if err := svc.Close(); err != nil {
		logger.New("main").Errorf("service close: %v", err)
	}
	if pubErr != nil {
		return pubErr
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s on %s\n", id, publishOpts.channel)
	return nil
}

func buildItem(format, data string) (item.Item, error) {
	switch format {
	case "http-stream":
		return item.New(item.HTTPStream{Content: []byte(data)})
	case "http-response":
		return item.New(item.HTTPResponse{Body: []byte(data)})
	case "":
		return item.Item{}, fmt.Errorf("format name is required")
	}
	var v any = data
	if json.Valid([]byte(data)) {
		_ = json.Unmarshal([]byte(data), &v)
	}
	return item.New(item.Raw{Key: format, Value: v})
}
