package field

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"nnfoam/model"
)

const header = "nnfoamField"

// CaseStore 算例目录下的场存储，布局为 <case>/<time>/<field>。
// 场在 Declare 时读入内存，Flush 时写入当前时间目录。
type CaseStore struct {
	dir      string
	timeName string
	cells    int
	order    []string
	fields   map[string][]float64
}

func OpenCase(dir, timeName string) (*CaseStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("field: open case: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("field: case %s is not a directory", dir)
	}
	return &CaseStore{
		dir:      dir,
		timeName: timeName,
		cells:    -1,
		fields:   make(map[string][]float64),
	}, nil
}

func (s *CaseStore) Dir() string {
	return s.dir
}

func (s *CaseStore) Time() string {
	return s.timeName
}

// SetTime 切换之后 Flush 和 WriteMeta 的目标目录
func (s *CaseStore) SetTime(timeName string) {
	s.timeName = timeName
}

func (s *CaseStore) Cells() int {
	if s.cells < 0 {
		return 0
	}
	return s.cells
}

// Declare 注册一个场。MustRead 从当前时间目录读取；NoRead 置零，要求此前已确定单元数。
func (s *CaseStore) Declare(name string, opt ReadOpt) error {
	if _, ok := s.fields[name]; ok {
		return fmt.Errorf("field: %s declared twice", name)
	}
	var values []float64
	switch opt {
	case MustRead:
		path := filepath.Join(s.dir, s.timeName, name)
		v, err := readFile(path, name)
		if err != nil {
			return err
		}
		if s.cells >= 0 && len(v) != s.cells {
			return fmt.Errorf("%w: %s has %d values, mesh has %d cells", ErrLength, name, len(v), s.cells)
		}
		s.cells = len(v)
		values = v
	case NoRead:
		if s.cells < 0 {
			return fmt.Errorf("field: cannot zero-initialize %s before the cell count is known", name)
		}
		values = make([]float64, s.cells)
	default:
		return fmt.Errorf("field: unknown read option %d", opt)
	}

	s.order = append(s.order, name)
	s.fields[name] = values
	log.WithFields(log.Fields{
		"field":    name,
		"timeName": s.timeName,
		"cells":    len(values),
		"read":     opt == MustRead,
	}).Info("读取场")
	return nil
}

func (s *CaseStore) Read(name string) ([]float64, error) {
	v, ok := s.fields[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return append([]float64(nil), v...), nil
}

func (s *CaseStore) Write(name string, values []float64) error {
	if _, ok := s.fields[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if len(values) != s.cells {
		return fmt.Errorf("%w: %s has %d values, mesh has %d cells", ErrLength, name, len(values), s.cells)
	}
	s.fields[name] = append([]float64(nil), values...)
	return nil
}

// Flush 把所有已注册的场写入当前时间目录
func (s *CaseStore) Flush() error {
	dir := filepath.Join(s.dir, s.timeName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("field: create time directory: %w", err)
	}
	for _, name := range s.order {
		if err := writeFile(filepath.Join(dir, name), name, s.fields[name]); err != nil {
			return err
		}
	}
	return nil
}

// WriteMeta 写入当前时间步的推理状态，stale 标记随结果一起持久化
func (s *CaseStore) WriteMeta(report *model.StepReport) error {
	dir := filepath.Join(s.dir, s.timeName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("field: create time directory: %w", err)
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("field: encode step metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, model.MetaFileName), data, 0o644)
}

// ReadMeta 读取某个时间目录的推理状态
func ReadMeta(dir, timeName string) (*model.StepReport, error) {
	data, err := os.ReadFile(filepath.Join(dir, timeName, model.MetaFileName))
	if err != nil {
		return nil, err
	}
	var report model.StepReport
	if err := yaml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("field: decode step metadata: %w", err)
	}
	return &report, nil
}

// LatestTime 返回算例中数值最大的时间目录名。
// 给出 required 时跳过缺少这些场文件的目录（例如终止时只写了元数据的时间步）。
func LatestTime(dir string, required ...string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	type timeDir struct {
		name  string
		value float64
	}
	var times []timeDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.ParseFloat(e.Name(), 64)
		if err != nil {
			continue
		}
		if !hasFields(filepath.Join(dir, e.Name()), required) {
			log.WithField("timeName", e.Name()).Debug("时间目录缺少场文件，跳过")
			continue
		}
		times = append(times, timeDir{e.Name(), v})
	}
	if len(times) == 0 {
		return "", fmt.Errorf("field: no time directories in %s", dir)
	}
	sort.Slice(times, func(i, j int) bool {
		return times[i].value < times[j].value
	})
	return times[len(times)-1].name, nil
}

func hasFields(dir string, names []string) bool {
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// 文件格式: 首行 "nnfoamField <name> <n>"，之后每行一个值
func readFile(path, name string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: required field %s (%s)", ErrNotFound, name, path)
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, fmt.Errorf("field: %s is empty", path)
	}
	head := strings.Fields(sc.Text())
	if len(head) != 3 || head[0] != header {
		return nil, fmt.Errorf("field: %s: bad header %q", path, sc.Text())
	}
	n, err := strconv.Atoi(head[2])
	if err != nil || n < 0 {
		return nil, fmt.Errorf("field: %s: bad value count %q", path, head[2])
	}

	values := make([]float64, 0, n)
	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("field: %s:%d: %w", path, line, err)
		}
		values = append(values, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(values) != n {
		return nil, fmt.Errorf("field: %s: header says %d values, found %d", path, n, len(values))
	}
	return values, nil
}

func writeFile(path, name string, values []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%s %s %d\n", header, name, len(values))
	for _, v := range values {
		w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteField 单独写一个场文件，用于准备算例
func WriteField(dir, timeName, name string, values []float64) error {
	tdir := filepath.Join(dir, timeName)
	if err := os.MkdirAll(tdir, 0o755); err != nil {
		return err
	}
	return writeFile(filepath.Join(tdir, name), name, values)
}
