// Package directory provides csync.Directory implementations: a CardDAV
// client for real remotes and an in-memory directory for tests.
package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/emersion/go-vcard"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/carddav"
	"github.com/google/uuid"

	"cardsync/internal/csync"
	"cardsync/internal/model"
)

// CredentialFunc resolves the plaintext password for a connection. The
// caller (app layer) owns unsealing; this package never sees passphrases.
type CredentialFunc func(conn *model.SyncConnection) (string, error)

// CardDAVDirectory implements csync.Directory against CardDAV servers.
// Address-book listing and single-member fetches go through the go-webdav
// CardDAV client; creates and conditional updates are plain HTTP PUTs with
// If-None-Match/If-Match issued over the same authenticated client, since
// that is where the ETag precondition lives.
type CardDAVDirectory struct {
	credentials CredentialFunc

	mu      sync.Mutex
	clients map[string]*remoteClient // connection ID -> cached client
}

type remoteClient struct {
	dav  *carddav.Client
	http webdav.HTTPClient
	base *url.URL
}

var _ csync.Directory = (*CardDAVDirectory)(nil)

// NewCardDAVDirectory creates a directory that authenticates each
// connection with the password resolved by credentials.
func NewCardDAVDirectory(credentials CredentialFunc) *CardDAVDirectory {
	return &CardDAVDirectory{
		credentials: credentials,
		clients:     make(map[string]*remoteClient),
	}
}

func (d *CardDAVDirectory) client(conn *model.SyncConnection) (*remoteClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rc, ok := d.clients[conn.ID]; ok {
		return rc, nil
	}

	password, err := d.credentials(conn)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials for %s: %w", conn.ID, err)
	}

	base, err := url.Parse(conn.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint %q: %w", conn.Endpoint, err)
	}

	hc := &statusClient{inner: webdav.HTTPClientWithBasicAuth(nil, conn.Username, password)}
	dav, err := carddav.NewClient(hc, conn.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("creating carddav client: %w", err)
	}

	rc := &remoteClient{dav: dav, http: hc, base: base}
	d.clients[conn.ID] = rc
	return rc, nil
}

func (d *CardDAVDirectory) ListMembers(ctx context.Context, conn *model.SyncConnection) ([]csync.Member, error) {
	rc, err := d.client(conn)
	if err != nil {
		return nil, err
	}

	objects, err := rc.dav.QueryAddressBook(ctx, conn.AddressBookPath, &carddav.AddressBookQuery{
		DataRequest: carddav.AddressDataRequest{AllProp: true},
	})
	if err != nil {
		return nil, mapDAVError("list members", err)
	}

	members := make([]csync.Member, 0, len(objects))
	for _, obj := range objects {
		raw, err := encodeCard(obj.Card)
		if err != nil {
			return nil, fmt.Errorf("encoding member %s: %w", obj.Path, err)
		}
		members = append(members, csync.Member{
			NativeID: obj.Path,
			Token:    obj.ETag,
			Raw:      raw,
		})
	}
	return members, nil
}

func (d *CardDAVDirectory) FetchMember(ctx context.Context, conn *model.SyncConnection, nativeID string) (*csync.Member, error) {
	rc, err := d.client(conn)
	if err != nil {
		return nil, err
	}

	obj, err := rc.dav.GetAddressObject(ctx, nativeID)
	if err != nil {
		return nil, mapDAVError("fetch member", err)
	}
	raw, err := encodeCard(obj.Card)
	if err != nil {
		return nil, fmt.Errorf("encoding member %s: %w", nativeID, err)
	}
	return &csync.Member{NativeID: obj.Path, Token: obj.ETag, Raw: raw}, nil
}

func (d *CardDAVDirectory) CreateMember(ctx context.Context, conn *model.SyncConnection, raw []byte) (string, string, error) {
	rc, err := d.client(conn)
	if err != nil {
		return "", "", err
	}

	nativeID := strings.TrimSuffix(conn.AddressBookPath, "/") + "/" + uuid.New().String() + ".vcf"

	// If-None-Match: * makes the PUT a create: it fails rather than
	// silently replacing a member that appeared under the same path.
	token, err := rc.put(ctx, nativeID, raw, "If-None-Match", "*")
	if err != nil {
		return "", "", mapDAVError("create member", err)
	}
	if token == "" {
		// Some servers omit the ETag on PUT; fetch it.
		obj, err := rc.dav.GetAddressObject(ctx, nativeID)
		if err != nil {
			return "", "", mapDAVError("fetching created member", err)
		}
		token = obj.ETag
	}
	return nativeID, token, nil
}

func (d *CardDAVDirectory) UpdateMember(ctx context.Context, conn *model.SyncConnection, nativeID string, raw []byte, expectedToken string) (string, error) {
	rc, err := d.client(conn)
	if err != nil {
		return "", err
	}

	token, err := rc.put(ctx, nativeID, raw, "If-Match", expectedToken)
	if err != nil {
		return "", mapDAVError("update member", err)
	}
	if token == "" {
		obj, err := rc.dav.GetAddressObject(ctx, nativeID)
		if err != nil {
			return "", mapDAVError("fetching updated member", err)
		}
		token = obj.ETag
	}
	return token, nil
}

// put issues a conditional PUT of a vCard record and returns the response
// ETag, which may be empty.
func (rc *remoteClient) put(ctx context.Context, path string, raw []byte, condHeader, condValue string) (string, error) {
	u := rc.base.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/vcard; charset=utf-8")
	req.Header.Set(condHeader, condValue)

	resp, err := rc.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// statusClient translates authentication and precondition responses into
// the core's sentinel errors before the carddav client folds the status
// into an opaque error. Every request for a connection flows through it,
// so the REPORT/PROPFIND paths and the raw PUT path map the same way.
type statusClient struct {
	inner webdav.HTTPClient
}

func (c *statusClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.inner.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, csync.ErrNotAuthenticated
	case http.StatusPreconditionFailed:
		resp.Body.Close()
		return nil, csync.ErrPreconditionFailed
	}
	return resp, nil
}

// mapDAVError translates client failures into the core's error taxonomy.
// Credential and precondition failures arrive as sentinels from
// statusClient and pass through; everything else is a transport error.
func mapDAVError(op string, err error) error {
	if errors.Is(err, csync.ErrPreconditionFailed) || errors.Is(err, csync.ErrNotAuthenticated) {
		return err
	}
	return &csync.TransportError{Op: op, Err: err}
}

func encodeCard(card vcard.Card) ([]byte, error) {
	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
