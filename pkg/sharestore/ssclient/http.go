// Copyright (C) 2019 GridVault Authors.
// See LICENSE for copying information.

package ssclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/gridvault/gridvault/pkg/grid"
	"github.com/gridvault/gridvault/pkg/sharestore"
)

var mon = monkit.Package()

// wire protocol headers
const (
	HeaderSlotVersion     = "X-Slot-Version"
	HeaderExpectedVersion = "X-Expected-Version"
	HeaderWriteEnabler    = "X-Write-Enabler"
)

type httpClient struct {
	log    *zap.Logger
	peer   grid.PeerRecord
	client *http.Client
	config Config
}

// NewHTTP creates a Client that talks to the peer's HTTP endpoint.
func NewHTTP(log *zap.Logger, peer grid.PeerRecord, config Config) Client {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	return &httpClient{
		log:    log,
		peer:   peer,
		client: &http.Client{},
		config: config,
	}
}

// NewHTTPDialer returns a Dialer producing HTTP clients.
func NewHTTPDialer(log *zap.Logger, config Config) Dialer {
	return func(ctx context.Context, peer grid.PeerRecord) (Client, error) {
		return NewHTTP(log.Named(peer.ID.String()), peer, config), nil
	}
}

func (client *httpClient) shareURL(index grid.StorageIndex, num int) string {
	return fmt.Sprintf("http://%s/v1/shares/%s/%d", client.peer.Address, index, num)
}

func (client *httpClient) slotURL(index grid.StorageIndex) string {
	return fmt.Sprintf("http://%s/v1/slots/%s", client.peer.Address, index)
}

// do issues the request, retrying transport failures up to the configured
// attempt count. Protocol-level failures are never retried here.
func (client *httpClient) do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	attempts := client.config.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && client.config.RetryBackoff > 0 {
			select {
			case <-time.After(client.config.RetryBackoff):
			case <-ctx.Done():
				return nil, ErrTransport.Wrap(ctx.Err())
			}
		}

		req, err := build()
		if err != nil {
			return nil, Error.Wrap(err)
		}
		opCtx, cancel := context.WithTimeout(ctx, client.config.RequestTimeout)
		resp, err := client.client.Do(req.WithContext(opCtx))
		if err != nil {
			cancel()
			lastErr = err
			continue
		}

		body, err := ioutil.ReadAll(resp.Body)
		closeErr := resp.Body.Close()
		cancel()
		if err != nil || closeErr != nil {
			lastErr = err
			if lastErr == nil {
				lastErr = closeErr
			}
			continue
		}
		resp.Body = ioutil.NopCloser(bytes.NewReader(body))
		return resp, nil
	}
	return nil, ErrTransport.New("peer %s: %v", client.peer.ID, lastErr)
}

// responseError maps protocol status codes back to the sharestore error
// vocabulary.
func (client *httpClient) responseError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return sharestore.ErrNotFound.New("peer %s", client.peer.ID)
	case http.StatusInsufficientStorage:
		return sharestore.ErrOutOfSpace.New("peer %s", client.peer.ID)
	case http.StatusConflict:
		return sharestore.ErrVersionConflict.New("peer %s", client.peer.ID)
	case http.StatusForbidden:
		return sharestore.ErrUnauthorized.New("peer %s", client.peer.ID)
	}
	return Error.New("peer %s: unexpected status %d", client.peer.ID, resp.StatusCode)
}

func (client *httpClient) PutShare(ctx context.Context, index grid.StorageIndex, num int, data []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	resp, err := client.do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodPut, client.shareURL(index, num), bytes.NewReader(data))
	})
	if err != nil {
		return err
	}
	return client.responseError(resp)
}

func (client *httpClient) GetShare(ctx context.Context, index grid.StorageIndex, num int) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	resp, err := client.do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, client.shareURL(index, num), nil)
	})
	if err != nil {
		return nil, err
	}
	if err := client.responseError(resp); err != nil {
		return nil, err
	}
	return ioutil.ReadAll(resp.Body)
}

func (client *httpClient) HasShare(ctx context.Context, index grid.StorageIndex, num int) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	resp, err := client.do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodHead, client.shareURL(index, num), nil)
	})
	if err != nil {
		return false, err
	}
	err = client.responseError(resp)
	if sharestore.ErrNotFound.Has(err) {
		return false, nil
	}
	return err == nil, err
}

func (client *httpClient) DeleteShare(ctx context.Context, index grid.StorageIndex, num int) (err error) {
	defer mon.Task()(&ctx)(&err)

	resp, err := client.do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodDelete, client.shareURL(index, num), nil)
	})
	if err != nil {
		return err
	}
	return client.responseError(resp)
}

func (client *httpClient) GetSlot(ctx context.Context, index grid.StorageIndex) (version uint64, payload []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	resp, err := client.do(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, client.slotURL(index), nil)
	})
	if err != nil {
		return 0, nil, err
	}
	if err := client.responseError(resp); err != nil {
		return 0, nil, err
	}
	version, err = strconv.ParseUint(resp.Header.Get(HeaderSlotVersion), 10, 64)
	if err != nil {
		return 0, nil, Error.New("peer %s: bad slot version header: %v", client.peer.ID, err)
	}
	payload, err = ioutil.ReadAll(resp.Body)
	return version, payload, Error.Wrap(err)
}

func (client *httpClient) PutSlot(ctx context.Context, index grid.StorageIndex, expectedVersion, newVersion uint64, enabler, payload []byte) (currentVersion uint64, err error) {
	defer mon.Task()(&ctx)(&err)

	resp, err := client.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPut, client.slotURL(index), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set(HeaderExpectedVersion, strconv.FormatUint(expectedVersion, 10))
		req.Header.Set(HeaderSlotVersion, strconv.FormatUint(newVersion, 10))
		req.Header.Set(HeaderWriteEnabler, base64.StdEncoding.EncodeToString(enabler))
		return req, nil
	})
	if err != nil {
		return 0, err
	}

	if current := resp.Header.Get(HeaderSlotVersion); current != "" {
		currentVersion, _ = strconv.ParseUint(current, 10, 64)
	}
	return currentVersion, client.responseError(resp)
}

func (client *httpClient) Close() error { return nil }
