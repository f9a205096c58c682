package cli

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func (r *Root) newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Dump the embedded metadata of a produced artifact",
		Long: `Run exiftool over an artifact and print the extracted metadata. Live-pair
zips are unpacked first and their still member is inspected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.inspect(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func (r *Root) inspect(ctx context.Context, out io.Writer, path string) error {
	if _, err := exec.LookPath("exiftool"); err != nil {
		return fmt.Errorf("exiftool not found in PATH")
	}

	target := path
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		extracted, cleanup, err := stillFromZip(path)
		if err != nil {
			return err
		}
		defer cleanup()
		target = extracted
	}

	cmd := exec.CommandContext(ctx, "exiftool", "-json", target)
	var raw bytes.Buffer
	cmd.Stdout = &raw
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("exiftool: %w", err)
	}

	var parsed []map[string]interface{}
	if err := json.Unmarshal(raw.Bytes(), &parsed); err != nil || len(parsed) == 0 {
		return fmt.Errorf("exiftool produced no metadata for %s", path)
	}

	pretty, err := json.MarshalIndent(parsed[0], "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(pretty))
	return nil
}

// stillFromZip extracts the JPEG member of a live-pair artifact to a temp
// file. Members are conventionally IMG_LIVE.JPG and IMG_LIVE.MOV but any
// jpeg-suffixed member is accepted.
func stillFromZip(path string) (string, func(), error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", nil, err
	}
	defer zr.Close()

	for _, member := range zr.File {
		ext := strings.ToLower(filepath.Ext(member.Name))
		if ext != ".jpg" && ext != ".jpeg" {
			continue
		}

		src, err := member.Open()
		if err != nil {
			return "", nil, err
		}
		defer src.Close()

		tmp, err := os.CreateTemp("", "inspect-*.jpg")
		if err != nil {
			return "", nil, err
		}
		if _, err := io.Copy(tmp, src); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", nil, err
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return "", nil, err
		}
		return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
	}
	return "", nil, fmt.Errorf("%s: no still member in zip", path)
}
