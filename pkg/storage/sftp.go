package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"

	"github.com/kr/fs"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// SFTP is the Client for SFTP servers. One SSH session, one SFTP
// channel; the executor serializes operations accordingly.
type SFTP struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
	host       string
	port       int
	user       string
}

// DialSFTP connects to an SFTP server using the SSH agent and default
// key files for authentication.
func DialSFTP(host string, port int, user string) (*SFTP, error) {
	authMethods := sshAuthMethods()
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH authentication methods available (tried SSH agent and default keys)")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: known_hosts verification
	}

	addr := fmt.Sprintf("%s:%d", host, port)

	sshClient, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("SSH connection failed: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()

		return nil, fmt.Errorf("SFTP session creation failed: %w", err)
	}

	return &SFTP{
		sshClient:  sshClient,
		sftpClient: sftpClient,
		host:       host,
		port:       port,
		user:       user,
	}, nil
}

// ListDirectory walks root on the server and returns every entry under
// it, keyed by slash-separated relative path.
func (s *SFTP) ListDirectory(ctx context.Context, root string, progress ScanProgressFunc) (map[string]FileInfo, error) {
	entries := make(map[string]FileInfo)

	var walker *fs.Walker = s.sftpClient.Walk(root)

	for walker.Step() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := walker.Err(); err != nil {
			// Skip unreadable subtrees like the local scanner does.
			walker.SkipDir()

			continue
		}

		entryPath := walker.Path()
		if entryPath == root {
			continue
		}

		rel, err := filepath.Rel(root, entryPath)
		if err != nil {
			continue
		}

		rel = filepath.ToSlash(rel)
		info := walker.Stat()

		fi := FileInfo{
			Path:         entryPath,
			RelativePath: rel,
			IsDir:        info.IsDir(),
			Modified:     info.ModTime(),
		}
		if !fi.IsDir {
			fi.Size = info.Size()
		}

		entries[rel] = fi

		if progress != nil {
			progress(ScanProgress{Root: root, FilesFound: len(entries)})
		}
	}

	return entries, nil
}

// Stat returns info for a single remote path.
func (s *SFTP) Stat(_ context.Context, remotePath string) (FileInfo, error) {
	info, err := s.sftpClient.Stat(remotePath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat %s: %w", remotePath, err)
	}

	fi := FileInfo{
		Path:     remotePath,
		IsDir:    info.IsDir(),
		Modified: info.ModTime(),
	}
	if !fi.IsDir {
		fi.Size = info.Size()
	}

	return fi, nil
}

// Upload streams the local file at localPath to remotePath.
func (s *SFTP) Upload(ctx context.Context, localPath, remotePath string, progress TransferProgressFunc) (int64, error) {
	srcFile, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	dstFile, err := s.sftpClient.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}

	written, copyErr := copyStream(ctx, dstFile, srcFile, srcInfo.Size(), progress)

	closeErr := dstFile.Close()

	if copyErr != nil {
		_ = s.sftpClient.Remove(remotePath)

		return written, copyErr
	}

	if closeErr != nil {
		_ = s.sftpClient.Remove(remotePath)

		return written, fmt.Errorf("failed to close remote file %s: %w", remotePath, closeErr)
	}

	if err := s.sftpClient.Chtimes(remotePath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return written, fmt.Errorf("failed to preserve modification time on %s: %w", remotePath, err)
	}

	return written, nil
}

// Download streams remotePath to the local file at localPath.
func (s *SFTP) Download(ctx context.Context, remotePath, localPath string, progress TransferProgressFunc) (int64, error) {
	srcFile, err := s.sftpClient.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat remote file %s: %w", remotePath, err)
	}

	dstFile, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", localPath, err)
	}

	written, copyErr := copyStream(ctx, dstFile, srcFile, srcInfo.Size(), progress)

	closeErr := dstFile.Close()

	if copyErr != nil {
		_ = os.Remove(localPath)

		return written, copyErr
	}

	if closeErr != nil {
		_ = os.Remove(localPath)

		return written, fmt.Errorf("failed to close %s: %w", localPath, closeErr)
	}

	if err := os.Chtimes(localPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return written, fmt.Errorf("failed to preserve modification time on %s: %w", localPath, err)
	}

	return written, nil
}

// Mkdir creates a remote directory, including missing parents.
func (s *SFTP) Mkdir(_ context.Context, remotePath string) error {
	if err := s.sftpClient.MkdirAll(remotePath); err != nil {
		return fmt.Errorf("failed to create remote directory %s: %w", remotePath, err)
	}

	return nil
}

// Delete removes a remote file or empty directory.
func (s *SFTP) Delete(_ context.Context, remotePath string, isDir bool) error {
	var err error
	if isDir {
		err = s.sftpClient.RemoveDirectory(remotePath)
	} else {
		err = s.sftpClient.Remove(remotePath)
	}

	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", remotePath, err)
	}

	return nil
}

// Checksum downloads the remote file's bytes and hashes them locally;
// the SFTP protocol has no server-side checksum.
func (s *SFTP) Checksum(ctx context.Context, remotePath string) (string, error) {
	file, err := s.sftpClient.Open(remotePath)
	if err != nil {
		return "", fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer file.Close()

	hasher := sha256.New()
	buf := make([]byte, BufferSize)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, readErr := file.Read(buf)
		if n > 0 {
			if _, err := hasher.Write(buf[:n]); err != nil {
				return "", fmt.Errorf("hash write failed: %w", err)
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}

			return "", fmt.Errorf("failed to read remote file %s: %w", remotePath, readErr)
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// KeepAlive issues a cheap request to keep the session open.
func (s *SFTP) KeepAlive(_ context.Context) error {
	if _, err := s.sftpClient.Getwd(); err != nil {
		return fmt.Errorf("keep-alive failed: %w", err)
	}

	return nil
}

// Hints describes SFTP transfer capabilities. A single SSH channel
// serves all operations, so connections are serialized.
func (s *SFTP) Hints() OptimizationHints {
	return OptimizationHints{
		SupportsResume:        true,
		PreferredChecksumAlgo: "sha256",
		SerializedConnections: true,
	}
}

// Close closes the SFTP channel and SSH connection.
func (s *SFTP) Close() error {
	var firstErr error

	if s.sftpClient != nil {
		if err := s.sftpClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.sshClient != nil {
		if err := s.sshClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// JoinRemote joins remote path elements with forward slashes.
func JoinRemote(elem ...string) string {
	return path.Join(elem...)
}

// sshAuthMethods returns auth methods in priority order: SSH agent,
// then default key files.
func sshAuthMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if agentAuth := trySSHAgent(); agentAuth != nil {
		methods = append(methods, agentAuth)
	}

	methods = append(methods, tryDefaultSSHKeys()...)

	return methods
}

// trySSHAgent attempts to connect to the SSH agent.
func trySSHAgent() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}

	agentClient := agent.NewClient(conn)

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// tryDefaultSSHKeys loads unencrypted keys from default locations.
func tryDefaultSSHKeys() []ssh.AuthMethod {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	sshDir := filepath.Join(homeDir, ".ssh")

	keyFiles := []string{
		filepath.Join(sshDir, "id_ed25519"),
		filepath.Join(sshDir, "id_rsa"),
		filepath.Join(sshDir, "id_ecdsa"),
	}

	var methods []ssh.AuthMethod

	for _, keyPath := range keyFiles {
		keyData, err := os.ReadFile(keyPath)
		if err != nil {
			continue
		}

		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			// Encrypted keys are skipped; the agent covers those.
			continue
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	return methods
}
