package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/firmkit/fwdispatch"
	"github.com/firmkit/fwdispatch/depex"
	"github.com/firmkit/fwdispatch/module"
	"github.com/firmkit/fwdispatch/volume"
)

const filePermission = 0o644

func NewPackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pack <config.toml> <out.fv>",
		Short: "Pack a firmware volume",
		Long:  `Build a firmware volume image from a TOML description of its files.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			cfg, err := fwdispatch.LoadVolumeConfig(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			raw, err := pack(cfg)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			if err := os.WriteFile(args[1], raw, filePermission); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logSuccessCmd(*cmd, fmt.Sprintf("Packed %d files into %s", len(cfg.Files), args[1]))
		},
	}
}

func pack(cfg *fwdispatch.VolumeConfig) ([]byte, error) {
	var b volume.Builder
	for i, fc := range cfg.Files {
		id := uuid.New()
		if fc.Name != "" {
			parsed, err := uuid.Parse(fc.Name)
			if err != nil {
				return nil, fmt.Errorf("file %d name: %w", i, err)
			}
			id = parsed
		}

		kind, err := module.ParseKind(fc.Kind)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", i, err)
		}

		f := b.File(id, kind)
		if fc.Alignment > 0 {
			f.Alignment(fc.Alignment)
		}
		if len(fc.Depex) > 0 {
			program, err := depex.Assemble(fc.Depex)
			if err != nil {
				return nil, fmt.Errorf("file %d depex: %w", i, err)
			}
			f.Depex(program)
		}
		if fc.Image != "" {
			payload, err := os.ReadFile(fc.Image)
			if err != nil {
				return nil, fmt.Errorf("file %d image: %w", i, err)
			}
			f.Image(payload)
		}
		if fc.VolumeImage != "" {
			payload, err := os.ReadFile(fc.VolumeImage)
			if err != nil {
				return nil, fmt.Errorf("file %d volume image: %w", i, err)
			}
			f.VolumeImage(payload)
		}
	}

	return b.Build()
}
