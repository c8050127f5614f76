package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/agentic-research/intentfs/internal/nfsmount"
)

// MountMetadata describes a running mount.
type MountMetadata struct {
	PID        int       `json:"pid"`
	Address    string    `json:"address"`
	MountPoint string    `json:"mount_point"`
	Backend    string    `json:"backend"`
	Port       int       `json:"port,omitempty"` // nfs only
	Timestamp  time.Time `json:"timestamp"`
}

// mountsDir returns the directory holding mount sidecars. Tests replace it.
var mountsDir = func() (string, error) {
	dir := filepath.Join(os.TempDir(), "intentfs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// mountName creates a readable sidecar name: basename-hash
// (e.g. "nsp-a1b2c3").
func mountName(mountPoint string) string {
	hash := sha256.Sum256([]byte(mountPoint))
	return fmt.Sprintf("%s-%s", filepath.Base(mountPoint), hex.EncodeToString(hash[:3]))
}

func sidecarPath(mountPoint string) (string, error) {
	dir, err := mountsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, mountName(mountPoint)+".meta.json"), nil
}

func saveMountMetadata(meta *MountMetadata) error {
	p, err := sidecarPath(meta.MountPoint)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func loadMountMetadata(mountPoint string) (*MountMetadata, error) {
	p, err := sidecarPath(mountPoint)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var meta MountMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func removeMountMetadata(mountPoint string) {
	if p, err := sidecarPath(mountPoint); err == nil {
		_ = os.Remove(p)
	}
}

// listActiveMounts reads every sidecar whose process is still alive.
// Sidecars of dead processes are removed.
func listActiveMounts() ([]*MountMetadata, error) {
	dir, err := mountsDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var mounts []*MountMetadata
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var meta MountMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		if !isProcessRunning(meta.PID) {
			_ = os.Remove(p)
			continue
		}
		mounts = append(mounts, &meta)
	}
	return mounts, nil
}

// isProcessRunning sends signal 0 to pid.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func init() {
	rootCmd.AddCommand(mountsCmd, unmountCmd)
}

var mountsCmd = &cobra.Command{
	Use:         "mounts",
	Short:       "List running intentfs mounts",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{"offline": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		mounts, err := listActiveMounts()
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(mounts))
		for _, m := range mounts {
			rows = append(rows, []string{m.MountPoint, m.Address, m.Backend, strconv.Itoa(m.PID), m.Timestamp.Format(time.DateTime)})
		}
		ui := newPtermUI(cmd.OutOrStdout(), assumeYes)
		return ui.Table([]string{"Mountpoint", "Address", "Backend", "PID", "Since"}, rows)
	},
}

var unmountCmd = &cobra.Command{
	Use:         "unmount <mountpoint>",
	Short:       "Stop a running mount",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"offline": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		mountPoint, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		// the owning process unmounts and revokes its session on SIGTERM
		if meta, err := loadMountMetadata(mountPoint); err == nil && isProcessRunning(meta.PID) {
			return unix.Kill(meta.PID, unix.SIGTERM)
		}
		removeMountMetadata(mountPoint)
		return nfsmount.Unmount(mountPoint)
	},
}
