package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
)

// UploadPhotoFromURL reattaches a user-submitted photo to the community: it
// downloads the largest size from src, pushes the bytes through the messages
// upload server and returns the "photo{owner}_{id}_{key}" attachment string.
// The whole pipeline stays in memory.
func (c *Client) UploadPhotoFromURL(ctx context.Context, peerID int64, src string) (string, error) {
	uploadURL, err := c.messagesUploadServer(ctx, peerID)
	if err != nil {
		return "", err
	}

	data, err := c.download(ctx, src)
	if err != nil {
		return "", fmt.Errorf("vk upload: download source: %w", err)
	}

	uploaded, err := c.uploadMultipart(ctx, uploadURL, data)
	if err != nil {
		return "", fmt.Errorf("vk upload: push to upload server: %w", err)
	}

	return c.saveMessagesPhoto(ctx, uploaded)
}

func (c *Client) messagesUploadServer(ctx context.Context, peerID int64) (string, error) {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(peerID, 10))

	var resp struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.call(ctx, "photos.getMessagesUploadServer", params, &resp); err != nil {
		return "", err
	}
	return resp.UploadURL, nil
}

func (c *Client) download(ctx context.Context, src string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 50<<20))
}

type uploadResult struct {
	Server int64  `json:"server"`
	Photo  string `json:"photo"`
	Hash   string `json:"hash"`
}

func (c *Client) uploadMultipart(ctx context.Context, uploadURL string, data []byte) (*uploadResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("photo", "photo.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var result uploadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if result.Photo == "" || result.Photo == "[]" {
		return nil, fmt.Errorf("upload server returned no photo")
	}
	return &result, nil
}

func (c *Client) saveMessagesPhoto(ctx context.Context, uploaded *uploadResult) (string, error) {
	params := url.Values{}
	params.Set("server", strconv.FormatInt(uploaded.Server, 10))
	params.Set("photo", uploaded.Photo)
	params.Set("hash", uploaded.Hash)

	var saved []struct {
		ID        int64  `json:"id"`
		OwnerID   int64  `json:"owner_id"`
		AccessKey string `json:"access_key"`
	}
	if err := c.call(ctx, "photos.saveMessagesPhoto", params, &saved); err != nil {
		return "", err
	}
	if len(saved) == 0 {
		return "", fmt.Errorf("vk photos.saveMessagesPhoto: empty result")
	}
	p := saved[0]
	attachment := fmt.Sprintf("photo%d_%d", p.OwnerID, p.ID)
	if p.AccessKey != "" {
		attachment += "_" + p.AccessKey
	}
	return attachment, nil
}
