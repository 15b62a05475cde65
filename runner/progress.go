package runner

import (
	"log/slog"

	"github.com/richinsley/comfytryon/client"
	"github.com/schollz/progressbar/v3"
)

// messageHandlers logs execution and renders a progress bar per sampling node
func (r *Runner) messageHandlers() *client.MessageHandlers {
	var bar *progressbar.ProgressBar
	var currentNodeTitle string

	finish := func() {
		if bar != nil {
			_ = bar.Finish()
			bar = nil
		}
	}

	return client.DefaultMessageHandlers().
		WithExecutingHandler(func(msg *client.PromptMessageExecuting) {
			finish()
			currentNodeTitle = msg.Title
			slog.Debug("Executing node", "node_id", msg.NodeID, "title", msg.Title)
		}).
		WithProgressHandler(func(msg *client.PromptMessageProgress) {
			if r.Progress == nil {
				return
			}
			if bar == nil {
				bar = progressbar.NewOptions(msg.Max,
					progressbar.OptionSetWriter(r.Progress),
					progressbar.OptionSetDescription(currentNodeTitle),
					progressbar.OptionShowCount(),
					progressbar.OptionSetWidth(30),
					progressbar.OptionOnCompletion(func() {
						_, _ = r.Progress.Write([]byte("\n"))
					}),
				)
			}
			_ = bar.Set(msg.Value)
		}).
		WithCompleteHandler(finish)
}
