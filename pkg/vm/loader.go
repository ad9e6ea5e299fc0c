package vm

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/javelin-vm/javelin/pkg/trace"
)

// ClassLoader finds the defining bytes of a class. The load pipeline
// (parse, compress, verify, link) is the VM's; loaders only locate bytes.
type ClassLoader interface {
	Name() LoaderName
	// FindClassBytes returns the raw classfile bytes for an internal name
	// such as "foo/Bar", or an error; a class that cannot be found is
	// reported as *ErrClassNotFound.
	FindClassBytes(internalName string) ([]byte, error)
}

// ErrClassNotFound reports that a loader has no representation of a type.
type ErrClassNotFound struct {
	Name string
}

func (e *ErrClassNotFound) Error() string {
	return fmt.Sprintf("class %s not found", e.Name)
}

// BootstrapLoader searches a colon-separated classpath of directories, jar
// files and jmod files, in order. Archive members are served from
// memory-mapped files.
type BootstrapLoader struct {
	entries []classpathEntry
}

type classpathEntry interface {
	find(internalName string) ([]byte, bool, error)
	io.Closer
}

// NewBootstrapLoader builds the loader from a classpath string. Missing
// entries are skipped with a warning, matching the usual JVM behavior.
func NewBootstrapLoader(classpath string) (*BootstrapLoader, error) {
	bl := &BootstrapLoader{}
	for _, p := range filepath.SplitList(classpath) {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			trace.Warning(fmt.Sprintf("classpath entry %s: %v", p, err))
			continue
		}
		if info.IsDir() {
			bl.entries = append(bl.entries, &dirEntry{root: p})
			continue
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".jar", ".zip":
			ae, err := openArchive(p, "")
			if err != nil {
				return nil, err
			}
			bl.entries = append(bl.entries, ae)
		case ".jmod":
			ae, err := openArchive(p, "classes/")
			if err != nil {
				return nil, err
			}
			bl.entries = append(bl.entries, ae)
		default:
			trace.Warning(fmt.Sprintf("classpath entry %s: unknown kind, skipped", p))
		}
	}
	return bl, nil
}

// Name implements ClassLoader.
func (bl *BootstrapLoader) Name() LoaderName { return BootstrapLoaderName }

// FindClassBytes implements ClassLoader: for type foo/Bar it searches
// foo/Bar.class in each entry in order.
func (bl *BootstrapLoader) FindClassBytes(internalName string) ([]byte, error) {
	for _, e := range bl.entries {
		b, ok, err := e.find(internalName)
		if err != nil {
			return nil, err
		}
		if ok {
			return b, nil
		}
	}
	return nil, &ErrClassNotFound{Name: internalName}
}

// Close releases the mapped archives.
func (bl *BootstrapLoader) Close() error {
	var first error
	for _, e := range bl.entries {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// dirEntry serves loose .class files under a directory.
type dirEntry struct {
	root string
}

func (d *dirEntry) find(internalName string) ([]byte, bool, error) {
	path := filepath.Join(d.root, filepath.FromSlash(internalName)+".class")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	if info.Size() == 0 {
		return nil, true, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		// Fall back to a plain read when mapping fails (pipes, exotic fs).
		b, rerr := io.ReadAll(f)
		if rerr != nil {
			return nil, false, rerr
		}
		return b, true, nil
	}
	defer m.Unmap()
	out := make([]byte, len(m))
	copy(out, m)
	return out, true, nil
}

func (d *dirEntry) Close() error { return nil }

// archiveEntry serves members of a jar/jmod held in a memory map.
type archiveEntry struct {
	path   string
	prefix string // "classes/" for jmods

	mu     sync.Mutex
	mapped mmap.MMap
	file   *os.File
	reader *zip.Reader
}

func openArchive(path, prefix string) (*archiveEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	data := []byte(m)
	if prefix == "classes/" && len(data) > 4 && data[0] == 'J' && data[1] == 'M' {
		data = data[4:] // jmod files carry a 4-byte header before the zip
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &archiveEntry{path: path, prefix: prefix, mapped: m, file: f, reader: zr}, nil
}

func (a *archiveEntry) find(internalName string) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	target := a.prefix + internalName + ".class"
	for _, f := range a.reader.File {
		if f.Name != target {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, false, fmt.Errorf("%s!%s: %w", a.path, target, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil, false, err
		}
		return b, true, nil
	}
	return nil, false, nil
}

func (a *archiveEntry) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mapped != nil {
		a.mapped.Unmap()
		a.mapped = nil
	}
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// UserLoader is a user-defined loader: it delegates to its parent first and
// then searches its own path, the standard parent-delegation model. A Java
// -level loadClass override can be installed via Delegate.
type UserLoader struct {
	name   LoaderName
	parent ClassLoader
	path   string

	// Delegate, when set, replaces the path search: after the parent, its
	// result is returned as is. It stands in for a Java-level loadClass
	// implementation.
	Delegate func(internalName string) ([]byte, error)
}

// NewUserLoader registers a user loader over a directory path.
func NewUserLoader(cs *Classes, parent ClassLoader, path string) *UserLoader {
	ul := &UserLoader{parent: parent, path: path}
	idx := cs.RegisterLoader(ul)
	ul.name = LoaderName{Index: idx}
	return ul
}

// Name implements ClassLoader.
func (ul *UserLoader) Name() LoaderName { return ul.name }

// FindClassBytes implements ClassLoader.
func (ul *UserLoader) FindClassBytes(internalName string) ([]byte, error) {
	if ul.parent != nil {
		if b, err := ul.parent.FindClassBytes(internalName); err == nil {
			return b, nil
		}
	}
	if ul.Delegate != nil {
		return ul.Delegate(internalName)
	}
	path := filepath.Join(ul.path, filepath.FromSlash(internalName)+".class")
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &ErrClassNotFound{Name: internalName}
	}
	return b, nil
}
