package browser

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/purell"
	"github.com/dgraph-io/badger/v4"
	"golang.org/x/net/publicsuffix"
)

const cookiePrefix = "cookies:"

// CookieStore persists cookies per origin in a badger database so that an
// HTTP driver session outlives the process. It is safe for concurrent use,
// every driver gets its own jar on top of it.
type CookieStore struct {
	db *badger.DB
}

func OpenCookieStore(dir string) (*CookieStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open cookie store: %w", err)
	}
	return &CookieStore{db: db}, nil
}

func OpenMemoryCookieStore() (*CookieStore, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &CookieStore{db: db}, nil
}

func (s *CookieStore) Close() error {
	return s.db.Close()
}

func originKey(u *url.URL) string {
	origin := &url.URL{Scheme: u.Scheme, Host: u.Host}
	return cookiePrefix + purell.NormalizeURL(origin, purell.FlagsSafe)
}

func (s *CookieStore) read(txn *badger.Txn, key string) ([]*http.Cookie, error) {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cookies []*http.Cookie
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &cookies)
	})
	return cookies, err
}

// Save merges cookies into those stored for the origin of u, cookies with
// a negative MaxAge are removed.
func (s *CookieStore) Save(u *url.URL, cookies []*http.Cookie) error {
	key := originKey(u)
	return s.db.Update(func(txn *badger.Txn) error {
		existing, err := s.read(txn, key)
		if err != nil {
			return err
		}

		byName := map[string]*http.Cookie{}
		order := []string{}
		for _, c := range existing {
			if _, ok := byName[c.Name]; !ok {
				order = append(order, c.Name)
			}
			byName[c.Name] = c
		}
		for _, c := range cookies {
			if c.MaxAge < 0 {
				delete(byName, c.Name)
				continue
			}
			if _, ok := byName[c.Name]; !ok {
				order = append(order, c.Name)
			}
			byName[c.Name] = c
		}

		merged := []*http.Cookie{}
		for _, name := range order {
			c, ok := byName[name]
			if ok {
				merged = append(merged, c)
			}
		}
		serialized, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return txn.Set([]byte(key), serialized)
	})
}

// Load returns every stored cookie keyed by origin (scheme://host).
func (s *CookieStore) Load() (map[string][]*http.Cookie, error) {
	out := map[string][]*http.Cookie{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(cookiePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			cookies, err := s.read(txn, key)
			if err != nil {
				return err
			}
			out[strings.TrimPrefix(key, cookiePrefix)] = cookies
		}
		return nil
	})
	return out, err
}

// Jar returns a cookie jar seeded with every stored cookie that writes new
// cookies through to the store.
func (s *CookieStore) Jar() (http.CookieJar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	stored, err := s.Load()
	if err != nil {
		return nil, err
	}
	for origin, cookies := range stored {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		inner.SetCookies(u, cookies)
	}
	return persistentJar{inner: inner, store: s}, nil
}

type persistentJar struct {
	inner *cookiejar.Jar
	store *CookieStore
}

func (j persistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)
	// a cookie that is not persisted only costs a login on the next run
	_ = j.store.Save(u, cookies)
}

func (j persistentJar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}
