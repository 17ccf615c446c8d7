package cmd

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facetrack/internal/config"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/database/postgres"
)

var embeddingsCmd = &cobra.Command{
	Use:   "embeddings",
	Short: "Export and import stored face embeddings",
}

var embeddingsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write all embeddings to a file",
	Long: `Export every stored embedding to a binary file. Each record carries
the owning student's number and name plus the vector in the big-endian
count-prefixed encoding. The file can seed another deployment via
"embeddings import".`,
	RunE: runEmbeddingsExport,
}

var embeddingsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load embeddings from an export file",
	RunE:  runEmbeddingsImport,
}

func init() {
	rootCmd.AddCommand(embeddingsCmd)
	embeddingsCmd.AddCommand(embeddingsExportCmd)
	embeddingsCmd.AddCommand(embeddingsImportCmd)

	embeddingsExportCmd.Flags().String("out", "embeddings.bin", "Output file")
	embeddingsImportCmd.Flags().String("in", "", "Export file to load (required)")
	embeddingsImportCmd.Flags().Bool("create-missing", false, "Create identity rows for unknown students instead of skipping them")
	_ = embeddingsImportCmd.MarkFlagRequired("in")
}

// exportRecord is one entry in an embeddings export file: the student's
// number and name as length-prefixed strings, then the encoded vector.
type exportRecord struct {
	studentNo string
	fullName  string
	vector    []float32
}

func writeString(w io.Writer, s string) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// readString reads a length-prefixed string. The length cap catches files
// that are not export files before a huge allocation does.
func readString(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > 1024 {
		return "", fmt.Errorf("implausible string length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("truncated string: %w", err)
	}
	return string(buf), nil
}

func writeExportRecord(w io.Writer, rec *exportRecord) error {
	if err := writeString(w, rec.studentNo); err != nil {
		return err
	}
	if err := writeString(w, rec.fullName); err != nil {
		return err
	}
	_, err := w.Write(database.EncodeVector(rec.vector))
	return err
}

// readExportRecord reads one record. A clean io.EOF on the first byte means
// the file ended; everything else mid-record is a truncation error.
func readExportRecord(r io.Reader, dim int) (*exportRecord, error) {
	studentNo, err := readString(r)
	if err != nil {
		return nil, err
	}
	fullName, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("truncated record for %s: %w", studentNo, err)
	}

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("truncated vector for %s: %w", studentNo, err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])
	if int(count) != dim {
		return nil, fmt.Errorf("record for %s: vector length %d, want %d", studentNo, count, dim)
	}
	blob := make([]byte, 4+4*int(count))
	copy(blob, countBuf[:])
	if _, err := io.ReadFull(r, blob[4:]); err != nil {
		return nil, fmt.Errorf("truncated vector for %s: %w", studentNo, err)
	}

	vector, err := database.DecodeVector(blob, dim)
	if err != nil {
		return nil, fmt.Errorf("record for %s: %w", studentNo, err)
	}
	return &exportRecord{studentNo: studentNo, fullName: fullName, vector: vector}, nil
}

func runEmbeddingsExport(cmd *cobra.Command, args []string) error {
	out := mustGetString(cmd, "out")

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	pool := postgres.GetGlobalPool()
	students := postgres.NewStudentRepository(pool)
	embeddings := postgres.NewEmbeddingRepository(pool)

	ctx := context.Background()
	list, err := students.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list students: %w", err)
	}
	byID := make(map[int64]*database.Student, len(list))
	for i := range list {
		byID[list[i].ID] = &list[i]
	}

	all, err := embeddings.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}
	if len(all) == 0 {
		fmt.Println("No embeddings stored.")
		return nil
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	exported := 0
	for i := range all {
		student, ok := byID[all[i].StudentID]
		if !ok {
			continue
		}
		rec := exportRecord{
			studentNo: student.StudentNo,
			fullName:  student.FullName,
			vector:    all[i].Embedding,
		}
		if err := writeExportRecord(w, &rec); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		exported++
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}

	fmt.Printf("Exported %d embeddings to %s\n", exported, out)
	return nil
}

func runEmbeddingsImport(cmd *cobra.Command, args []string) error {
	in := mustGetString(cmd, "in")
	createMissing := mustGetBool(cmd, "create-missing")

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	students := postgres.NewStudentRepository(postgres.GetGlobalPool())

	f, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", in, err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	ctx := context.Background()
	imported, skipped := 0, 0
	for {
		rec, err := readExportRecord(r, cfg.Recognition.EmbeddingDim)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", in, err)
		}

		student, err := students.GetByNo(ctx, rec.studentNo)
		if err != nil {
			return err
		}
		if student == nil {
			if !createMissing {
				skipped++
				continue
			}
			if _, err := students.CreateIdentity(ctx, rec.studentNo, rec.fullName); err != nil {
				return fmt.Errorf("creating %s: %w", rec.studentNo, err)
			}
		}

		if _, err := students.AddEmbedding(ctx, rec.studentNo, rec.vector); err != nil {
			return fmt.Errorf("importing %s: %w", rec.studentNo, err)
		}
		imported++
	}

	fmt.Printf("Imported %d embeddings", imported)
	if skipped > 0 {
		fmt.Printf(", skipped %d for unknown students", skipped)
	}
	fmt.Println()
	return nil
}
