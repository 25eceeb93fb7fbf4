package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Store is a vector store as returned by the API.
type Store struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	CreatedAt  int64      `json:"created_at"`
	UsageBytes int64      `json:"usage_bytes"`
	FileCounts FileCounts `json:"file_counts"`
}

// FileCounts summarizes the files of a store by state.
type FileCounts struct {
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// StoreFile is the association of an uploaded file with a store.
type StoreFile struct {
	ID            string `json:"id"`
	VectorStoreID string `json:"vector_store_id"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
	UsageBytes    int64  `json:"usage_bytes"`
	LastError     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
}

// DefaultStoreName returns the name used when the caller supplies none.
func DefaultStoreName(now time.Time) string {
	return "vs-" + now.Format("20060102-150405")
}

// CreateStore creates an empty vector store. A blank name is replaced with
// DefaultStoreName.
func (c *Client) CreateStore(ctx context.Context, name string) (Store, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultStoreName(time.Now())
	}
	r, err := jsonRequest("create store", http.MethodPost, "/vector_stores", map[string]string{"name": name})
	if err != nil {
		return Store{}, err
	}

	var s Store
	if err := c.call(ctx, r, &s); err != nil {
		return Store{}, err
	}
	if strings.TrimSpace(s.ID) == "" {
		return Store{}, ErrNoStoreID
	}
	if s.Name == "" {
		s.Name = name
	}
	return s, nil
}

// GetStore fetches one store.
func (c *Client) GetStore(ctx context.Context, id string) (Store, error) {
	var s Store
	r := request{op: "get store", method: http.MethodGet, path: "/vector_stores/" + url.PathEscape(id)}
	if err := c.call(ctx, r, &s); err != nil {
		return Store{}, err
	}
	return s, nil
}

// ListStores returns every store on the account, following pagination.
func (c *Client) ListStores(ctx context.Context) ([]Store, error) {
	return listAll(ctx, c, "list stores", "/vector_stores", func(s Store) string { return s.ID })
}

// DeleteStore deletes a store. Files attached to it are not deleted.
func (c *Client) DeleteStore(ctx context.Context, id string) error {
	r := request{op: "delete store", method: http.MethodDelete, path: "/vector_stores/" + url.PathEscape(id)}
	return c.call(ctx, r, nil)
}

// AttachFile adds an uploaded file to a store, which starts indexing.
func (c *Client) AttachFile(ctx context.Context, storeID, fileID string) (StoreFile, error) {
	r, err := jsonRequest("attach file", http.MethodPost,
		"/vector_stores/"+url.PathEscape(storeID)+"/files", map[string]string{"file_id": fileID})
	if err != nil {
		return StoreFile{}, err
	}
	var sf StoreFile
	if err := c.call(ctx, r, &sf); err != nil {
		return StoreFile{}, err
	}
	return sf, nil
}

// GetStoreFile fetches the association record, including the raw status.
func (c *Client) GetStoreFile(ctx context.Context, storeID, fileID string) (StoreFile, error) {
	r := request{
		op:     "get file status",
		method: http.MethodGet,
		path:   "/vector_stores/" + url.PathEscape(storeID) + "/files/" + url.PathEscape(fileID),
	}
	var sf StoreFile
	if err := c.call(ctx, r, &sf); err != nil {
		return StoreFile{}, err
	}
	return sf, nil
}

// GetFileStatus returns the normalized indexing status of a store file.
func (c *Client) GetFileStatus(ctx context.Context, storeID, fileID string) (FileStatus, error) {
	sf, err := c.GetStoreFile(ctx, storeID, fileID)
	if err != nil {
		return "", err
	}
	return NormalizeStatus(sf.Status), nil
}

// ListFiles returns every file attached to a store, following pagination.
func (c *Client) ListFiles(ctx context.Context, storeID string) ([]StoreFile, error) {
	return listAll(ctx, c, "list files", "/vector_stores/"+url.PathEscape(storeID)+"/files",
		func(f StoreFile) string { return f.ID })
}

// DetachFile removes a file from a store. The raw file stays uploaded.
func (c *Client) DetachFile(ctx context.Context, storeID, fileID string) error {
	r := request{
		op:     "detach file",
		method: http.MethodDelete,
		path:   "/vector_stores/" + url.PathEscape(storeID) + "/files/" + url.PathEscape(fileID),
	}
	return c.call(ctx, r, nil)
}

type listPage[T any] struct {
	Data    []T    `json:"data"`
	HasMore bool   `json:"has_more"`
	LastID  string `json:"last_id"`
}

const pageSize = 100

// listAll walks a cursor-paginated list endpoint. When the reply omits
// last_id the id of the final item is used as the cursor.
func listAll[T any](ctx context.Context, c *Client, op, path string, id func(T) string) ([]T, error) {
	var all []T
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(pageSize))
		if after != "" {
			q.Set("after", after)
		}

		var page listPage[T]
		r := request{op: op, method: http.MethodGet, path: path + "?" + q.Encode()}
		if err := c.call(ctx, r, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)

		if !page.HasMore || len(page.Data) == 0 {
			return all, nil
		}
		next := page.LastID
		if next == "" {
			next = id(page.Data[len(page.Data)-1])
		}
		if next == after {
			return all, nil
		}
		after = next
	}
}
