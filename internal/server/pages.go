package server

import (
	"net/http"
	"os"
	"path/filepath"
)

// HandleIndex serves the public feedback form.
func (s *Server) HandleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.cfg.Server.StaticDir, "index.html"))
}

// HandleAdminPage serves the admin dashboard. The route is behind the auth gate.
func (s *Server) HandleAdminPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, filepath.Join(s.cfg.Server.StaticDir, "admin.html"))
}

func (s *Server) assetsHandler() http.Handler {
	dir := filepath.Join(s.cfg.Server.StaticDir, "assets")
	return http.StripPrefix("/assets/", http.FileServer(noListingFS{http.Dir(dir)}))
}

// noListingFS hides directories so the file server never renders an index.
type noListingFS struct {
	fs http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
