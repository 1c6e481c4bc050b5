package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Area はフリートの全ノードが共有する永続ディレクトリ。ノードは
// <root>/<host>_<port>/ にスナップショットを書く。ハーネスは実行前に
// ツリーごと消すのと、実行後に一覧するだけ
type Area struct {
	root string
}

// New はrootを起点とするAreaを返す
func New(root string) *Area {
	return &Area{root: filepath.Clean(root)}
}

// Root は正規化したルートパスを返す
func (a *Area) Root() string {
	return a.root
}

// Clear はツリー全体を削除する。ルートがなくてもエラーにしない
func (a *Area) Clear() error {
	switch a.root {
	case "", ".", "..", string(filepath.Separator):
		return fmt.Errorf("refusing to clear storage root %q", a.root)
	}
	if err := os.RemoveAll(a.root); err != nil {
		return fmt.Errorf("clear storage %s: %w", a.root, err)
	}
	return nil
}

// NodeDir はhost:portのノードが永続化するディレクトリを返す
func (a *Area) NodeDir(host string, port int) string {
	return filepath.Join(a.root, host+"_"+strconv.Itoa(port))
}

// Entry はノードが書いた1ファイルを表す
type Entry struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// NodeUsage は1つのノードディレクトリの集計
type NodeUsage struct {
	Host    string  `json:"host"`
	Port    int     `json:"port"`
	Files   int     `json:"files"`
	Bytes   int64   `json:"bytes"`
	Entries []Entry `json:"entries,omitempty"`
}

// Files はノードディレクトリ配下の通常ファイルを相対パス順に返す。
// 何も永続化していないノードならnil
func (a *Area) Files(host string, port int) ([]Entry, error) {
	dir := a.NodeDir(host, port)
	var entries []Entry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Path: rel, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Usage はルート直下の <host>_<port> ディレクトリをポート順に集計する。
// 命名規則に合わないディレクトリは飛ばす
func (a *Area) Usage() ([]NodeUsage, error) {
	dirents, err := os.ReadDir(a.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read storage %s: %w", a.root, err)
	}

	var usage []NodeUsage
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		host, port, ok := parseNodeDir(de.Name())
		if !ok {
			continue
		}
		files, err := a.Files(host, port)
		if err != nil {
			return nil, err
		}
		u := NodeUsage{Host: host, Port: port, Files: len(files), Entries: files}
		for _, f := range files {
			u.Bytes += f.Size
		}
		usage = append(usage, u)
	}
	sort.Slice(usage, func(i, j int) bool { return usage[i].Port < usage[j].Port })
	return usage, nil
}

func parseNodeDir(name string) (string, int, bool) {
	idx := strings.LastIndexByte(name, '_')
	if idx <= 0 || idx == len(name)-1 {
		return "", 0, false
	}
	port, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return name[:idx], port, true
}
