package compose

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"domctl/internal/apperrors"
)

func TestRender(t *testing.T) {
	t.Parallel()
	f := Render(Params{Prefix: "domjudge-abc123", Port: 8080, Judges: 2, JudgePassword: "jp", DBPassword: "dbp"})

	want := []string{"domserver", "judgehost-1", "judgehost-2", "mariadb", "mysql-client"}
	if got := f.ServiceNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ServiceNames() = %v, want %v", got, want)
	}

	server := f.Services[ServiceServer]
	if server.ContainerName != "domjudge-abc123-domserver" || server.Ports[0] != "8080:80" {
		t.Errorf("domserver = %+v", server)
	}
	if server.Environment["MYSQL_HOST"] != "domjudge-abc123-mariadb" || server.Environment["MYSQL_PASSWORD"] != "dbp" {
		t.Errorf("domserver env = %v", server.Environment)
	}

	judge := f.Services["judgehost-2"]
	if judge.Environment["JUDGEDAEMON_PASSWORD"] != "jp" || judge.Environment["DAEMON_ID"] != "1" || !judge.Privileged {
		t.Errorf("judgehost-2 = %+v", judge)
	}
	if judge.Environment["DOMSERVER_BASEURL"] != "http://domjudge-abc123-domserver/" {
		t.Errorf("base url = %q", judge.Environment["DOMSERVER_BASEURL"])
	}
}

func TestRender_NoJudges(t *testing.T) {
	t.Parallel()
	f := Render(Params{Prefix: "p", Port: 1, Judges: 0})
	for _, n := range f.ServiceNames() {
		if strings.HasPrefix(n, judgehostPrefix) {
			t.Errorf("unexpected worker service %s", n)
		}
	}
}

func TestWriteRead(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "docker-compose.yml")
	p := Params{Prefix: "domjudge-ffffff", Port: 12345, Judges: 1, JudgePassword: PlaceholderSecret, DBPassword: "secret"}
	if err := Write(path, p); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	f, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if f.Name != "domjudge-ffffff" {
		t.Errorf("Name = %q", f.Name)
	}
	if got := f.ContainerName("judgehost-1"); got != "domjudge-ffffff-judgehost-1" {
		t.Errorf("ContainerName() = %q", got)
	}
	if got := f.ContainerName("unknown"); got != "unknown" {
		t.Errorf("ContainerName(unknown) = %q", got)
	}
	if f.Services["judgehost-1"].Environment["JUDGEDAEMON_PASSWORD"] != "TEMP" {
		t.Errorf("placeholder secret not rendered")
	}
}

func TestRead_Missing(t *testing.T) {
	t.Parallel()
	_, err := Read(filepath.Join(t.TempDir(), "nope.yml"))
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Read() error = %v, want ErrNotFound", err)
	}
}

func TestJudgehostServices(t *testing.T) {
	t.Parallel()
	if got := JudgehostServices(3); !reflect.DeepEqual(got, []string{"judgehost-1", "judgehost-2", "judgehost-3"}) {
		t.Errorf("JudgehostServices(3) = %v", got)
	}
	if got := JudgehostServices(0); len(got) != 0 {
		t.Errorf("JudgehostServices(0) = %v", got)
	}
}
