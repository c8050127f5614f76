package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/sys/unix"

	fusefs "github.com/agentic-research/intentfs/internal/fs"
	"github.com/agentic-research/intentfs/internal/nfsmount"
)

var (
	backend string
	nfsAddr string
)

func init() {
	mountCmd.Flags().StringVarP(&backend, "backend", "b", "nfs", "Mount backend: nfs or fuse")
	mountCmd.Flags().StringVar(&nfsAddr, "nfs-addr", "127.0.0.1:0", "Listen address of the NFS server")
	rootCmd.AddCommand(mountCmd)
}

var mountCmd = &cobra.Command{
	Use:   "mount <mountpoint>",
	Short: "Mount the intent catalog read-write",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mountPoint, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve mountpoint: %w", err)
		}
		if err := os.MkdirAll(mountPoint, 0o755); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
		defer cancel()

		// fail early on bad credentials or an unreachable server
		if _, err := current.tree.List(ctx, "/"); err != nil {
			return err
		}

		meta := &MountMetadata{
			PID:        os.Getpid(),
			Address:    current.cfg.Get().Address,
			MountPoint: mountPoint,
			Backend:    backend,
			Timestamp:  time.Now(),
		}
		switch backend {
		case "nfs":
			return mountNFS(ctx, meta)
		case "fuse":
			return mountFUSE(ctx, meta)
		}
		return fmt.Errorf("unknown backend %q (want nfs or fuse)", backend)
	},
}

func mountNFS(ctx context.Context, meta *MountMetadata) error {
	log := current.log.With().Str("component", "nfs").Logger()
	tfs := nfsmount.NewTreeFS(ctx, current.tree, log)
	srv, err := nfsmount.NewServer(tfs, nfsmount.WithAddr(nfsAddr), nfsmount.WithServerLogger(log))
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if err := nfsmount.Mount(srv.Port(), meta.MountPoint); err != nil {
		return err
	}
	meta.Port = srv.Port()
	if err := saveMountMetadata(meta); err != nil {
		current.log.Warn().Err(err).Msg("mount metadata not saved")
	}
	defer removeMountMetadata(meta.MountPoint)

	current.ui.Success(fmt.Sprintf("%s mounted at %s (nfs, port %d)", meta.Address, meta.MountPoint, srv.Port()))
	<-ctx.Done()

	current.ui.Info("unmounting " + meta.MountPoint)
	return nfsmount.Unmount(meta.MountPoint)
}

func mountFUSE(ctx context.Context, meta *MountMetadata) error {
	ifs := fusefs.NewIntentFS(ctx, current.tree, current.log.With().Str("component", "fuse").Logger())
	host := fuse.NewFileSystemHost(ifs)

	// uid/gid make the mount ours (needed by fuse-t, which serves over NFS)
	opts := []string{
		"-o", "fsname=intentfs",
		"-o", fmt.Sprintf("uid=%d", os.Getuid()),
		"-o", fmt.Sprintf("gid=%d", os.Getgid()),
	}

	if err := saveMountMetadata(meta); err != nil {
		current.log.Warn().Err(err).Msg("mount metadata not saved")
	}
	defer removeMountMetadata(meta.MountPoint)

	go func() {
		<-ctx.Done()
		host.Unmount()
	}()

	current.ui.Success(fmt.Sprintf("%s mounting at %s (fuse)", meta.Address, meta.MountPoint))
	if !host.Mount(meta.MountPoint, opts) {
		return fmt.Errorf("mount failed")
	}
	return nil
}
