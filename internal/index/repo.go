package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/assetgraph/internal/apperr"
	"github.com/starford/assetgraph/internal/models"
)

const defaultListLimit = 50

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// GraphNode is one asset in the graph dump.
type GraphNode struct {
	ID    string `json:"id"`
	URL   string `json:"url,omitempty"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// GraphLink is one resolved relation in the graph dump.
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

const assetColumns = `id, url, type, content_type, file_name, is_inline, is_loaded, is_populated, title, checksum, attrs`

const relationColumns = `id, type, from_id, from_url, to_id, to_url, href, href_type, fragment, canonical, crossorigin`

// UpsertAsset replaces an asset row, its FTS entry and its outgoing
// relations within one transaction.
func (db *DB) UpsertAsset(a models.Asset, body string, rels []models.Relation) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	attrsJSON := "{}"
	if len(a.Attrs) > 0 {
		if b, err := json.Marshal(a.Attrs); err == nil {
			attrsJSON = string(b)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO assets (`+assetColumns+`, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url          = excluded.url,
			type         = excluded.type,
			content_type = excluded.content_type,
			file_name    = excluded.file_name,
			is_inline    = excluded.is_inline,
			is_loaded    = excluded.is_loaded,
			is_populated = excluded.is_populated,
			title        = excluded.title,
			checksum     = excluded.checksum,
			attrs        = excluded.attrs,
			body         = excluded.body,
			updated_at   = excluded.updated_at
	`, a.ID, a.URL, a.Type, a.ContentType, a.FileName, a.IsInline, a.IsLoaded, a.IsPopulated,
		a.Title, a.Checksum, attrsJSON, body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("index: upsert asset: %w", err)
	}

	if err := ftsUpsert(tx, a.ID, a.Title, body); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM relations WHERE from_id = ?`, a.ID); err != nil {
		return fmt.Errorf("index: clear relations: %w", err)
	}
	if len(rels) > 0 {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO relations (` + relationColumns + `, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare relation insert: %w", err)
		}
		defer stmt.Close()
		for i, r := range rels {
			if _, err := stmt.Exec(r.ID, r.Type, a.ID, r.FromURL, r.To, r.ToURL, r.Href, r.HrefType,
				r.Fragment, r.Canonical, r.Crossorigin, i); err != nil {
				return fmt.Errorf("index: insert relation: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteAsset removes an asset, its FTS entry and its outgoing relations.
func (db *DB) DeleteAsset(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ftsDelete(tx, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM relations WHERE from_id = ?`, id); err != nil {
		return fmt.Errorf("index: delete relations: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM assets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: delete asset: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for an asset, or "" if not found.
func (db *DB) GetChecksum(id string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM assets WHERE id = ?`, id).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// GetAsset returns the asset stored for url.
func (db *DB) GetAsset(url string) (*models.Asset, error) {
	row := db.conn.QueryRow(`SELECT `+assetColumns+` FROM assets WHERE url = ? LIMIT 1`, url)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get asset: %w", err)
	}
	return a, nil
}

// ListAssets returns a page of assets, optionally filtered by type, and
// the total number of matching rows. sort is one of url, type or updated_at.
func (db *DB) ListAssets(limit, offset int, typ, sort string) ([]models.Asset, int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	order := "url ASC"
	switch sort {
	case "type":
		order = "type ASC, url ASC"
	case "updated_at":
		order = "updated_at DESC"
	}

	where := ""
	var args []any
	if typ != "" {
		where = "WHERE type = ?"
		args = append(args, typ)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM assets `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count assets: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+assetColumns+` FROM assets `+where+
		` ORDER BY `+order+` LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list assets: %w", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *a)
	}
	return out, total, rows.Err()
}

// Incoming returns the relations whose target URL is url, in snapshot order.
func (db *DB) Incoming(url string) ([]models.Relation, error) {
	rows, err := db.conn.Query(`SELECT `+relationColumns+` FROM relations
		WHERE to_url = ? ORDER BY from_url, position`, url)
	if err != nil {
		return nil, fmt.Errorf("index: incoming: %w", err)
	}
	defer rows.Close()

	var out []models.Relation
	for rows.Next() {
		var r models.Relation
		if err := rows.Scan(&r.ID, &r.Type, &r.From, &r.FromURL, &r.To, &r.ToURL, &r.Href,
			&r.HrefType, &r.Fragment, &r.Canonical, &r.Crossorigin); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Graph returns every asset as a node and every resolved relation as a link.
func (db *DB) Graph() ([]GraphNode, []GraphLink, error) {
	rows, err := db.conn.Query(`SELECT id, url, type, title FROM assets ORDER BY url, id`)
	if err != nil {
		return nil, nil, fmt.Errorf("index: graph nodes: %w", err)
	}
	nodes := []GraphNode{}
	for rows.Next() {
		var n GraphNode
		if err := rows.Scan(&n.ID, &n.URL, &n.Type, &n.Title); err != nil {
			rows.Close()
			return nil, nil, err
		}
		nodes = append(nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = db.conn.Query(`SELECT from_id, to_id, type FROM relations
		WHERE to_id != '' ORDER BY from_url, position`)
	if err != nil {
		return nil, nil, fmt.Errorf("index: graph links: %w", err)
	}
	defer rows.Close()
	links := []GraphLink{}
	for rows.Next() {
		var l GraphLink
		if err := rows.Scan(&l.Source, &l.Target, &l.Type); err != nil {
			return nil, nil, err
		}
		links = append(links, l)
	}
	return nodes, links, rows.Err()
}

// AllChecksums returns the stored checksum of every asset by id.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM assets`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}

// Counts returns the number of asset and relation rows.
func (db *DB) Counts() (assets, relations int, err error) {
	if err = db.conn.QueryRow(`SELECT count(*) FROM assets`).Scan(&assets); err != nil {
		return 0, 0, fmt.Errorf("index: count assets: %w", err)
	}
	if err = db.conn.QueryRow(`SELECT count(*) FROM relations`).Scan(&relations); err != nil {
		return 0, 0, fmt.Errorf("index: count relations: %w", err)
	}
	return assets, relations, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(s scanner) (*models.Asset, error) {
	var (
		a     models.Asset
		attrs string
	)
	if err := s.Scan(&a.ID, &a.URL, &a.Type, &a.ContentType, &a.FileName, &a.IsInline, &a.IsLoaded,
		&a.IsPopulated, &a.Title, &a.Checksum, &attrs); err != nil {
		return nil, err
	}
	if attrs != "" && attrs != "{}" {
		_ = json.Unmarshal([]byte(attrs), &a.Attrs)
	}
	return &a, nil
}
