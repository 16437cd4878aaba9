package redis

import (
	"embed"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

//go:embed lua/*.lua
var luaFiles embed.FS

// Negative script replies.
const (
	codeJobNotFound  = -1
	codeLockMismatch = -2
	codeNotActive    = -3
	codeJobActive    = -4
	codeDuplicate    = -5
)

var (
	addJobsScript        = loadScript("addJobs")
	moveToActiveScript   = loadScript("moveToActive")
	extendLockScript     = loadScript("extendLock")
	moveToFinishedScript = loadScript("moveToFinished")
	updateProgressScript = loadScript("updateProgress")
	promoteDelayedScript = loadScript("promoteDelayed")
	moveStalledScript    = loadScript("moveStalledJobsToWait")
	pauseScript          = loadScript("pause")
	drainScript          = loadScript("drain")
	removeScript         = loadScript("remove")
	cleanScript          = loadScript("clean")
)

// loadScript prepends the shared helpers to a script body.
func loadScript(name string) *goredis.Script {
	includes, err := luaFiles.ReadFile("lua/includes.lua")
	if err != nil {
		panic(fmt.Sprintf("jobs/redis: missing includes: %v", err))
	}
	body, err := luaFiles.ReadFile("lua/" + name + ".lua")
	if err != nil {
		panic(fmt.Sprintf("jobs/redis: missing script %s: %v", name, err))
	}
	return goredis.NewScript(string(includes) + "\n" + string(body))
}
