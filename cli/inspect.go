package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/firmkit/fwdispatch/depex"
	"github.com/firmkit/fwdispatch/volume"
)

type inspectedFile struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Alignment uint32   `json:"alignment"`
	Depex     []string `json:"depex,omitempty"`
	ImageSize int      `json:"image_size,omitempty"`
	Nested    bool     `json:"nested_volume,omitempty"`
}

func NewInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <volume.fv>",
		Short: "Inspect a firmware volume",
		Long:  `Scan a firmware volume and list its files, kinds, alignments and decoded dependency programs without dispatching anything.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			mods, err := volume.Scan(raw)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			files := make([]inspectedFile, len(mods))
			for i, m := range mods {
				files[i] = inspectedFile{
					ID:        m.ID.String(),
					Kind:      m.Kind.String(),
					Alignment: m.Alignment,
					ImageSize: len(m.Image),
					Nested:    m.VolumeImage != nil,
				}
				if m.Depex != nil {
					files[i].Depex = strings.Split(depex.Disassemble(m.Depex), "\n")
				}
			}
			logJSONCmd(*cmd, files)
		},
	}
}
