// Package jobs drives the job scheduler from cron schedules using
// github.com/robfig/cron/v3.
//
// # Available Jobs
//
//  1. process  - runs due capture, expiry and reminder jobs (every minute)
//  2. retry    - returns retry-eligible failed jobs to the queue (every 5 minutes)
//  3. validate - repairs stuck, missing and stale jobs (every 15 minutes)
//  4. cleanup  - deletes finished jobs past the retention window (daily)
//
// # Usage
//
//	manager := jobs.NewJobManager(scheduler, metrics, locker, jobs.ManagerConfig{
//		Schedules:  jobs.DefaultSchedules(),
//		DaysToKeep: 30,
//		LockTTL:    5 * time.Minute,
//	}, logger)
//	if err := manager.StartAll(); err != nil {
//		return err
//	}
//	defer manager.StopAll()
//
// # Overlap
//
// A tick is skipped while the previous tick of the same job still runs. With a
// Redis locker, a tick is also skipped while another instance holds the job's
// lock. The lock only saves wasted work; claims in storage decide which
// instance runs a given scheduled job.
package jobs
