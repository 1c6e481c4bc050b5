package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind はノードが理解する5種類の行コマンドのいずれか
type Kind string

const (
	KindInitialize Kind = "initialize"
	KindJoin       Kind = "join"
	KindSnapshot   Kind = "snapshot"
	KindDisconnect Kind = "disconnect"
	KindRestore    Kind = "restore"
)

// Kinds は全コマンド種別をプロトコル順に並べる
func Kinds() []Kind {
	return []Kind{KindInitialize, KindJoin, KindSnapshot, KindDisconnect, KindRestore}
}

const separator = ", "

// Command はデコードしたプロトコル行。HostとPortはinitializeとjoinで、
// Endowmentはinitializeでのみ使う
type Command struct {
	Kind      Kind
	Host      string
	Port      int
	Endowment int
}

// Line は改行込みでコマンドをエンコードする
func (c Command) Line() string {
	switch c.Kind {
	case KindInitialize:
		return Initialize(c.Host, c.Port, c.Endowment)
	case KindJoin:
		return Join(c.Host, c.Port)
	default:
		return string(c.Kind) + "\n"
	}
}

func (c Command) String() string {
	return strings.TrimSuffix(c.Line(), "\n")
}

// Initialize はノードをhost:portで単独メンバーとして立ち上げる
func Initialize(host string, port, endowment int) string {
	return strings.Join([]string{
		string(KindInitialize), host, strconv.Itoa(port), strconv.Itoa(endowment),
	}, separator) + "\n"
}

// Join はseedHost:seedPortのクラスタへの参加を指示する
func Join(seedHost string, seedPort int) string {
	return strings.Join([]string{
		string(KindJoin), seedHost, strconv.Itoa(seedPort),
	}, separator) + "\n"
}

// Snapshot は現在の状態の永続化を指示する
func Snapshot() string { return string(KindSnapshot) + "\n" }

// Disconnect はプロセスを残したまま通信の停止を指示する
func Disconnect() string { return string(KindDisconnect) + "\n" }

// Restore は初期化直後のノードに最後のスナップショットからの復旧を指示する
func Restore() string { return string(KindRestore) + "\n" }

// Parse は1行をデコードする。カンマで分割して前後の空白を除くので、
// "join, h, 1" も "join,h,1" も受け付ける
func Parse(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	kind := Kind(fields[0])
	args := fields[1:]

	switch kind {
	case KindInitialize:
		if len(args) != 3 {
			return Command{}, fmt.Errorf("initialize: expected 3 arguments, got %d", len(args))
		}
		port, err := parsePort(args[1])
		if err != nil {
			return Command{}, fmt.Errorf("initialize: %w", err)
		}
		endowment, err := strconv.Atoi(args[2])
		if err != nil || endowment < 0 {
			return Command{}, fmt.Errorf("initialize: invalid resource endowment %q", args[2])
		}
		return Command{Kind: kind, Host: args[0], Port: port, Endowment: endowment}, nil
	case KindJoin:
		if len(args) != 2 {
			return Command{}, fmt.Errorf("join: expected 2 arguments, got %d", len(args))
		}
		port, err := parsePort(args[1])
		if err != nil {
			return Command{}, fmt.Errorf("join: %w", err)
		}
		return Command{Kind: kind, Host: args[0], Port: port}, nil
	case KindSnapshot, KindDisconnect, KindRestore:
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%s: takes no arguments", kind)
		}
		return Command{Kind: kind}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}
