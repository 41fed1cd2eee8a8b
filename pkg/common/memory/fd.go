package memory

import (
	"context"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/vineyard-go/vineyard/pkg/common/log"
)

// SendFileDescriptor sends fd as ancillary data (SCM_RIGHTS) over conn, a
// connected unix-domain socket. A single placeholder byte is sent as the
// regular payload, since SCM_RIGHTS cannot ride on an empty message.
func SendFileDescriptor(conn int, fd int) error {
	logger := log.FromContext(context.TODO())

	rights := syscall.UnixRights(fd)
	placeholder := []byte{0}
	for {
		err := syscall.Sendmsg(conn, placeholder, rights, nil, 0)
		if err == nil {
			return nil
		}
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK || err == syscall.EINTR {
			continue
		}
		logger.Error(err, "error in send_fd", "fd", fd)
		return errors.Wrapf(err, "send fd %d", fd)
	}
}

// RecvFileDescriptor reads one fd sent by SendFileDescriptor, including
// the single placeholder payload byte that necessarily rides alongside
// it -- left unread, that byte would sit at the front of the socket's
// regular data queue and corrupt the very next length-prefixed frame.
func RecvFileDescriptor(conn int) (int, error) {
	logger := log.FromContext(context.TODO())

	var oobn int
	var err error
	placeholder := make([]byte, 1)
	oob := make([]byte, syscall.CmsgSpace(int(unsafe.Sizeof(int32(0)))))
	for {
		_, oobn, _, _, err = syscall.Recvmsg(conn, placeholder, oob, 0)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK || err == syscall.EINTR {
				continue
			} else {
				logger.Error(err, "Error in recv_fd")
				return 0, errors.Wrapf(err, "Error in recv_fd")
			}
		} else {
			break
		}
	}
	messages, err := syscall.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return 0, err
	}
	for _, scm := range messages {
		fds, err := syscall.ParseUnixRights(&scm)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}
	return 0, errors.Errorf("Failed to recv fd from remote server")
}
