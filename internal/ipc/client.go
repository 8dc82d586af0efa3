package ipc

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"hsmd/internal/protocol"
)

// ErrRejected is returned for every MsgError response, mirroring the
// uniform rejection hsm.Controller itself surfaces.
var ErrRejected = errors.New("ipc: request rejected")

// Client is a connection to an hsmd socket, used by cmd/hsmctl. It issues
// one request at a time; the protocol gives no way to pipeline requests
// and the server wouldn't process them concurrently anyway.
type Client struct {
	conn          net.Conn
	nextRequestID atomic.Uint32
}

// Dial connects to the hsmd socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(msgType protocol.MessageType, payload any) (*protocol.Frame, error) {
	req, err := protocol.NewFrame(msgType, c.nextRequestID.Add(1), payload)
	if err != nil {
		return nil, err
	}
	if err := req.Write(c.conn); err != nil {
		return nil, fmt.Errorf("ipc: write request: %w", err)
	}
	resp, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("ipc: read response: %w", err)
	}
	if resp.Header.Type == protocol.MsgError {
		return nil, ErrRejected
	}
	return resp, nil
}

// GenerateKeys issues a generateKeys request.
func (c *Client) GenerateKeys(newMask []byte) ([]byte, error) {
	resp, err := c.call(protocol.MsgGenerateKeys, protocol.GenerateKeysRequest{NewMask: newMask})
	if err != nil {
		return nil, err
	}
	var out protocol.PublicKeyResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.PublicKey, nil
}

// RotateKeys issues a rotateKeys request.
func (c *Client) RotateKeys(existingMask, newMask []byte) ([]byte, error) {
	resp, err := c.call(protocol.MsgRotateKeys, protocol.RotateKeysRequest{ExistingMask: existingMask, NewMask: newMask})
	if err != nil {
		return nil, err
	}
	var out protocol.PublicKeyResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.PublicKey, nil
}

// EraseKeys issues an eraseKeys request.
func (c *Client) EraseKeys() error {
	_, err := c.call(protocol.MsgEraseKeys, struct{}{})
	return err
}

// DigestBytes issues a digestBytes request.
func (c *Client) DigestBytes(message []byte) ([]byte, error) {
	resp, err := c.call(protocol.MsgDigestBytes, protocol.DigestBytesRequest{Message: message})
	if err != nil {
		return nil, err
	}
	var out protocol.DigestResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.Digest, nil
}

// SignBytes issues a signBytes request.
func (c *Client) SignBytes(mask, message []byte) ([]byte, error) {
	resp, err := c.call(protocol.MsgSignBytes, protocol.SignBytesRequest{Mask: mask, Message: message})
	if err != nil {
		return nil, err
	}
	var out protocol.SignatureResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.Signature, nil
}

// ValidSignature issues a validSignature request.
func (c *Client) ValidSignature(publicKey, signature, message []byte) (bool, error) {
	resp, err := c.call(protocol.MsgValidSignature, protocol.ValidSignatureRequest{PublicKey: publicKey, Signature: signature, Message: message})
	if err != nil {
		return false, err
	}
	var out protocol.ValidSignatureResponse
	if err := resp.Decode(&out); err != nil {
		return false, err
	}
	return out.Valid, nil
}
