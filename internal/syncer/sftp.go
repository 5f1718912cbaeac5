package syncer

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"gpufleet/internal/logging"
	"gpufleet/internal/remote"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
)

const sftpDialTimeout = 30 * time.Second

// pullSFTP recursively copies remotePath from the instance into destDir,
// preserving the source's base name (rsync-style "dir into dir" semantics).
func pullSFTP(target remote.Target, remotePath, destDir string) error {
	client, err := remote.Dial(target, sftpDialTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	defer sftpClient.Close()

	localPath := filepath.Join(destDir, path.Base(remotePath))

	info, err := sftpClient.Stat(remotePath)
	if err != nil {
		return fmt.Errorf("failed to stat remote path: %w", err)
	}
	if !info.IsDir() {
		return copyRemoteFile(sftpClient, remotePath, localPath, info.Mode())
	}

	if err := os.MkdirAll(localPath, 0o755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	var files, dirs int
	walker := sftpClient.Walk(remotePath)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return fmt.Errorf("failed to walk remote directory: %w", err)
		}

		relPath, err := filepath.Rel(remotePath, walker.Path())
		if err != nil {
			return fmt.Errorf("failed to compute relative path: %w", err)
		}
		if relPath == "." {
			continue
		}

		localFilePath := filepath.Join(localPath, relPath)
		info := walker.Stat()
		if info.IsDir() {
			if err := os.MkdirAll(localFilePath, info.Mode()); err != nil {
				return fmt.Errorf("failed to create local directory: %w", err)
			}
			dirs++
			continue
		}

		if err := copyRemoteFile(sftpClient, walker.Path(), localFilePath, info.Mode()); err != nil {
			return err
		}
		files++
	}

	logging.Logger().Debug("pulled directory over SFTP",
		zap.String("remote_path", remotePath),
		zap.String("local_path", localPath),
		zap.String("host", target.Host),
		zap.Int("files", files),
		zap.Int("dirs", dirs))

	return nil
}

func copyRemoteFile(client *sftp.Client, remotePath, localPath string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}

	remoteFile, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer remoteFile.Close()

	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer localFile.Close()

	if _, err := localFile.ReadFrom(remoteFile); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	if err := os.Chmod(localPath, mode); err != nil {
		logging.Logger().Warn("failed to set file permissions",
			zap.String("path", localPath),
			zap.Error(err))
	}
	return nil
}
