package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/gophertribe/devtool/build"
)

const (
	binary        = "dist/tee301"
	mainPackage   = "./cmd/tee301"
	configPackage = "github.com/epluse/sensors/pkg/config"
)

func BuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the tee301 cli",
		RunE: func(cmd *cobra.Command, args []string) error {
			targetOS := cmd.Flag("os").Value.String()
			targetArch := cmd.Flag("arch").Value.String()
			version := cmd.Flag("version").Value.String()
			crossOS := cmd.Flag("cross-os").Value.String()
			crossArch := cmd.Flag("cross-arch").Value.String()
			cgo, err := cmd.Flags().GetBool("cgo")
			if err != nil {
				return fmt.Errorf("could not get cgo flag: %w", err)
			}

			// native builds run go build directly, foreign targets go through docker
			if targetOS == runtime.GOOS && targetArch == runtime.GOARCH {
				if crossOS != "" && crossArch != "" {
					targetOS = crossOS
					targetArch = crossArch
				}
				// hid enumeration of the mcp2221 needs cgo
				return build.GoBuild(binary, mainPackage, build.GoBuildOpts{
					Version:       version,
					InjectVersion: true,
					ConfigPackage: configPackage,
					EnableCgo:     cgo,
					Arch:          targetArch,
					OS:            targetOS,
				})
			}

			noCache, err := cmd.Flags().GetBool("no-cache")
			if err != nil {
				return fmt.Errorf("could not get no-cache flag: %w", err)
			}
			args = []string{"build", "--version", version, "--cross-os", crossOS, "--cross-arch", crossArch, fmt.Sprintf("--cgo=%t", cgo)}
			return build.Docker(cmd.Context(), fmt.Sprintf("./dev-%s-%s", targetOS, targetArch), args, build.DockerBuildOpts{
				NoCache: noCache,
				Image:   "gophertribe/gobuild:1.25-bookworm",
			})
		},
	}
	cmd.Flags().Bool("no-cache", false, "do not use cache when building the app")
	cmd.Flags().Bool("cgo", true, "enable cgo; without it the mcp2221 adapter finds no devices")
	cmd.Flags().String("version", "latest", "version of the cli")
	cmd.Flags().String("os", runtime.GOOS, "os to build for")
	cmd.Flags().String("arch", runtime.GOARCH, "arch to build for")
	cmd.Flags().String("cross-os", "", "os to cross-compile for")
	cmd.Flags().String("cross-arch", "", "arch to cross-compile for")

	return cmd
}
