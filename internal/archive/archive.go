// Package archive packs a file or directory tree into a tar artifact and
// extracts such artifacts without letting entries escape the destination.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrUnsafePath = errors.New("archive entry escapes destination")

// Pack writes source into a new tar artifact in workDir and returns its
// path. The artifact name carries a random suffix so concurrent sends of the
// same source do not collide.
func Pack(source, workDir string) (string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return "", err
	}

	base := filepath.Base(filepath.Clean(source))
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	artifact := filepath.Join(workDir, fmt.Sprintf("%s_%s.tar", base, suffix))

	f, err := os.OpenFile(artifact, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}

	err = writeTree(f, source, base, info)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(artifact)
		return "", fmt.Errorf("pack %s: %w", source, err)
	}

	return artifact, nil
}

func writeTree(w io.Writer, source, base string, info fs.FileInfo) error {
	tw := tar.NewWriter(w)

	if !info.IsDir() {
		if err := addFile(tw, source, base, info); err != nil {
			return err
		}
		return tw.Close()
	}

	err := filepath.WalkDir(source, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}
		name := path.Join(base, filepath.ToSlash(rel))

		fi, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case fi.IsDir():
			hdr, err := tar.FileInfoHeader(fi, "")
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			return tw.WriteHeader(hdr)
		case fi.Mode().IsRegular():
			return addFile(tw, p, name, fi)
		default:
			return nil
		}
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

func addFile(tw *tar.Writer, p, name string, fi fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return err
	}
	hdr.Name = name

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// Unpack extracts every entry of the artifact under dest. Entries that are
// absolute, climb out of dest, or are links fail the whole call; anything
// created before the failure is removed again.
func Unpack(artifact, dest string) (err error) {
	f, err := os.Open(artifact)
	if err != nil {
		return err
	}
	defer f.Close()

	root, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}

	var created []string
	defer func() {
		if err == nil {
			return
		}
		for i := len(created) - 1; i >= 0; i-- {
			os.Remove(created[i])
		}
	}()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("unpack %s: %w", artifact, err)
		}

		target, err := resolve(root, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			made, err := mkdirs(target)
			created = append(created, made...)
			if err != nil {
				return err
			}
		case tar.TypeReg:
			made, err := mkdirs(filepath.Dir(target))
			created = append(created, made...)
			if err != nil {
				return err
			}
			if _, statErr := os.Stat(target); os.IsNotExist(statErr) {
				created = append(created, target)
			}
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			return fmt.Errorf("%w: link entry %q", ErrUnsafePath, hdr.Name)
		default:
			// device nodes, fifos and pax records carry no file content
		}
	}
}

func resolve(root, name string) (string, error) {
	slashed := filepath.ToSlash(name)
	if path.IsAbs(slashed) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: absolute entry %q", ErrUnsafePath, name)
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
		}
	}

	target := filepath.Join(root, filepath.FromSlash(slashed))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}

// mkdirs creates dir and any missing parents, returning the directories it
// created from outermost to innermost.
func mkdirs(dir string) ([]string, error) {
	var missing []string
	for p := dir; ; p = filepath.Dir(p) {
		if _, err := os.Stat(p); err == nil {
			break
		}
		missing = append(missing, p)
		if filepath.Dir(p) == p {
			break
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	for i, j := 0, len(missing)-1; i < j; i, j = i+1, j-1 {
		missing[i], missing[j] = missing[j], missing[i]
	}
	return missing, nil
}

func writeFile(target string, r io.Reader, perm fs.FileMode) error {
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
