package geo

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// MMDBProvider answers from a local MaxMind City database. Reload swaps the
// database without interrupting lookups.
type MMDBProvider struct {
	path string

	mu     sync.RWMutex
	reader *geoip2.Reader
}

func OpenMMDB(path string) (*MMDBProvider, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open mmdb %s: %w", path, err)
	}
	return &MMDBProvider{path: path, reader: reader}, nil
}

func (p *MMDBProvider) Path() string {
	return p.path
}

func (p *MMDBProvider) Lookup(ctx context.Context, ip net.IP) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.reader == nil {
		return Location{}, fmt.Errorf("geo: mmdb %s is closed", p.path)
	}

	record, err := p.reader.City(ip)
	if err != nil {
		return Location{}, fmt.Errorf("geo: mmdb lookup %s: %w", ip, err)
	}

	loc := Location{
		Country: record.Country.Names["en"],
		City:    record.City.Names["en"],
	}
	if loc.Country == "" {
		loc.Country = record.Country.IsoCode
	}
	if loc.IsZero() {
		return Location{}, ErrNoData
	}
	return loc, nil
}

// Reload reopens the database file. The previous reader stays in use if the
// new file cannot be opened.
func (p *MMDBProvider) Reload() error {
	reader, err := geoip2.Open(p.path)
	if err != nil {
		return fmt.Errorf("geo: reopen mmdb %s: %w", p.path, err)
	}

	p.mu.Lock()
	old := p.reader
	p.reader = reader
	p.mu.Unlock()

	if old != nil {
		return old.Close()
	}
	return nil
}

func (p *MMDBProvider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reader == nil {
		return nil
	}
	err := p.reader.Close()
	p.reader = nil
	return err
}
