package recordstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Client implements Store on top of a Backend.
type Client struct {
	b      Backend
	newKey func() (string, error)
}

// NewClient wraps a backend. Push keys are UUIDv7 strings, so they sort by creation time.
func NewClient(b Backend) *Client {
	return &Client{b: b, newKey: func() (string, error) {
		id, err := uuid.NewV7()
		if err != nil {
			return "", err
		}
		return id.String(), nil
	}}
}

func (c *Client) Backend() Backend { return c.b }

func (c *Client) Close() error { return c.b.Close() }

// GetRaw returns the JSON encoding of the subtree at path.
func (c *Client) GetRaw(ctx context.Context, path string) (json.RawMessage, bool, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, false, err
	}
	leaves, err := c.b.Scan(ctx, p)
	if err != nil {
		return nil, false, fmt.Errorf("recordstore: get %s: %w", p, err)
	}
	return build(p, leaves)
}

func (c *Client) Get(ctx context.Context, path string, out any) (bool, error) {
	raw, ok, err := c.GetRaw(ctx, path)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("recordstore: decode %s: %w", path, err)
	}
	return true, nil
}

func (c *Client) Set(ctx context.Context, path string, v any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	nv, err := normalize(v)
	if err != nil {
		return fmt.Errorf("recordstore: encode %s: %w", p, err)
	}
	leaves, err := flatten(p, nv, nil)
	if err != nil {
		return err
	}
	b := Batch{Prune: []string{p}, Put: leaves}
	if len(leaves) > 0 {
		b.Drop = ancestors(p)
	}
	if err := c.b.Apply(ctx, b); err != nil {
		return fmt.Errorf("recordstore: set %s: %w", p, err)
	}
	return nil
}

func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	var b Batch
	for k, v := range fields {
		if err := checkSegment(k); err != nil {
			return err
		}
		child := p + "/" + k
		nv, err := normalize(v)
		if err != nil {
			return fmt.Errorf("recordstore: encode %s: %w", child, err)
		}
		if b.Put, err = flatten(child, nv, b.Put); err != nil {
			return err
		}
		b.Prune = append(b.Prune, child)
	}
	if len(b.Put) > 0 {
		b.Drop = append(ancestors(p), p)
	}
	if err := c.b.Apply(ctx, b); err != nil {
		return fmt.Errorf("recordstore: update %s: %w", p, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, path string) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	if err := c.b.Apply(ctx, Batch{Prune: []string{p}}); err != nil {
		return fmt.Errorf("recordstore: delete %s: %w", p, err)
	}
	return nil
}

func (c *Client) Push(ctx context.Context, parent string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := cleanPath(parent)
	if err != nil {
		return "", err
	}
	key, err := c.newKey()
	if err != nil {
		return "", fmt.Errorf("recordstore: push key: %w", err)
	}
	return p + "/" + key, nil
}
