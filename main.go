package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"syscall"
)

// 向仪表盘进程发送 SIGHUP：重新打开日志文件并重新渲染。
// 用法: go run . <pid>
func main() {
	pid, err := parsePid(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		log.Fatal("Failed to send SIGHUP:", err)
	}
	fmt.Printf("已向进程 %d 发送 SIGHUP\n", pid)
}

func parsePid(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("用法: reload <pid>")
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("无效的pid: %q", args[0])
	}
	return pid, nil
}
