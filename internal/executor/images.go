package executor

import (
	"context"
	"encoding/json"
	"io"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"playground-engine/internal/errors"
)

// ensureImage pulls imageName unless it is already present locally.
func ensureImage(
	ctx context.Context,
	cli client.ImageAPIClient,
	imageName string,
) error {
	if _, _, err := cli.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}

	reader, err := cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return errors.Wrapf(err, "failed to pull image %s", imageName)
	}
	defer reader.Close()

	// The pull only completes once its progress stream is drained.
	dec := json.NewDecoder(reader)
	for {
		var msg pullMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "image pull decode error")
		}
		if msg.Error != "" {
			return errors.Newf("failed to pull image %s: %s", imageName, msg.Error)
		}
	}
}

type pullMessage struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}
