package memory

import (
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendRecvFileDescriptorRoundTrip(t *testing.T) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer syscall.Close(fds[0])
	defer syscall.Close(fds[1])

	tmp, err := os.CreateTemp(t.TempDir(), "payload")
	require.NoError(t, err)
	defer tmp.Close()
	_, err = tmp.WriteString("hello arena")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- SendFileDescriptor(fds[0], int(tmp.Fd()))
	}()

	got, err := RecvFileDescriptor(fds[1])
	require.NoError(t, err)
	require.NoError(t, <-done)

	f := os.NewFile(uintptr(got), "received")
	defer f.Close()
	buf := make([]byte, len("hello arena"))
	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello arena", string(buf))
}
