package executor

import (
	"context"

	"go.uber.org/zap"

	"playground-engine/internal/language"
)

// PreloadImages pulls the images of every container-backed language so the
// first run does not pay for the pull.
func (d *DockerExecutor) PreloadImages(ctx context.Context, specs []language.Spec) error {
	images := containerImages(specs)
	d.logger.Info("preloading docker images", zap.Int("count", len(images)))

	for _, img := range images {
		d.logger.Debug("checking image", zap.String("image", img))
		if err := ensureImage(ctx, d.cli, img); err != nil {
			return err
		}
		d.logger.Info("image ready", zap.String("image", img))
	}
	return nil
}

// containerImages returns the distinct images used by container specs.
func containerImages(specs []language.Spec) []string {
	seen := map[string]bool{}
	var images []string
	for _, spec := range specs {
		if spec.Runtime != language.RuntimeContainer || spec.Image == "" || seen[spec.Image] {
			continue
		}
		seen[spec.Image] = true
		images = append(images, spec.Image)
	}
	return images
}
