package docstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/contractwatch/contract-indexer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(config.DocumentsConfig{
		QueueDir:               t.TempDir(),
		MaxFileSizeMB:          1,
		DownloadTimeoutSeconds: 5,
	}, nil)
	require.NoError(t, err)
	return s
}

func TestDownload_PDFMagicBytes(t *testing.T) {
	// The server sends PDF content with no Content-Disposition and a
	// generic content type; the magic bytes must win.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("%PDF-1.7 fake pdf body"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	doc, err := s.Download(context.Background(), "47QSWA25D002F", srv.URL+"/download?id=123")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(doc.Filename, ".pdf"), "expected .pdf, got %s", doc.Filename)
	assert.True(t, strings.HasPrefix(doc.Filename, "47QSWA25D002F_"))
	assert.FileExists(t, doc.Path)
	assert.Equal(t, int64(22), doc.Size)
}

func TestDownload_ContentDispositionWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="statement_of_work.DOCX"`)
		_, _ = w.Write([]byte("%PDF not really"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	doc, err := s.Download(context.Background(), "N00014-25-C-1001", srv.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(doc.Filename, ".docx"), "got %s", doc.Filename)
}

func TestDownload_ZipContainerSniffing(t *testing.T) {
	tests := []struct {
		name    string
		marker  string
		wantExt string
	}{
		{"word document", "word/document.xml", ".docx"},
		{"spreadsheet", "xl/workbook.xml", ".xlsx"},
		{"presentation", "ppt/presentation.xml", ".pptx"},
		{"plain archive", "data/readme.txt", ".zip"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body := append([]byte("PK\x03\x04"), []byte(tc.marker)...)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(body)
			}))
			defer srv.Close()

			s := newTestStore(t)
			doc, err := s.Download(context.Background(), "SP0600-25-D-0001", srv.URL)
			require.NoError(t, err)
			assert.True(t, strings.HasSuffix(doc.Filename, tc.wantExt), "got %s", doc.Filename)
		})
	}
}

func TestDownload_LegacyOfficeMagic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.ms-excel")
		_, _ = w.Write([]byte("\xd0\xcf\x11\xe0legacy"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	doc, err := s.Download(context.Background(), "W912DY-25-R-0031", srv.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(doc.Filename, ".xls"), "got %s", doc.Filename)
}

func TestDownload_URLFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Suppress net/http's content sniffing; the URL suffix layer is
		// only reached when disposition, magic and content-type all miss.
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("just some text"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	doc, err := s.Download(context.Background(), "FA8773-25-Q-0002", srv.URL+"/files/pricing.XLSX?token=abc")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(doc.Filename, ".xlsx"), "got %s", doc.Filename)
}

func TestDownload_DefaultsToPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("opaque bytes"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	doc, err := s.Download(context.Background(), "HC1028-25-D-0020", srv.URL+"/download")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(doc.Filename, ".pdf"), "got %s", doc.Filename)
}

func TestDownload_SkipsExisting(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	first, err := s.Download(context.Background(), "N-1", srv.URL)
	require.NoError(t, err)
	second, err := s.Download(context.Background(), "N-1", srv.URL)
	require.NoError(t, err)

	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, 1, requests, "second call must not re-download")
}

func TestDownload_RejectsOversized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2*1024*1024))
	}))
	defer srv.Close()

	s := newTestStore(t)
	_, err := s.Download(context.Background(), "N-1", srv.URL)
	require.Error(t, err)

	var tooLarge *ErrTooLarge
	assert.ErrorAs(t, err, &tooLarge)
}

func TestDownload_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	s := newTestStore(t)
	_, err := s.Download(context.Background(), "N-1", srv.URL)
	assert.ErrorContains(t, err, "status 404")
}

func TestEnsureLocal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	s := newTestStore(t)

	t.Run("uses local file when present", func(t *testing.T) {
		path := filepath.Join(s.Dir(), "N-2_abc.pdf")
		require.NoError(t, os.WriteFile(path, []byte("%PDF cached"), 0o644))

		doc, err := s.EnsureLocal(context.Background(), "N-2", srv.URL, path)
		require.NoError(t, err)
		assert.Equal(t, path, doc.Path)
	})

	t.Run("re-downloads when local file missing", func(t *testing.T) {
		missing := filepath.Join(s.Dir(), "N-3_gone.pdf")
		doc, err := s.EnsureLocal(context.Background(), "N-3", srv.URL, missing)
		require.NoError(t, err)
		assert.FileExists(t, doc.Path)
		assert.NotEqual(t, missing, doc.Path)
	})
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)

	path := filepath.Join(s.Dir(), "N-4_x.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	require.NoError(t, s.Remove(path))
	assert.NoFileExists(t, path)

	// Removing an already-missing file is not an error.
	assert.NoError(t, s.Remove(path))
	assert.NoError(t, s.Remove(""))
}
