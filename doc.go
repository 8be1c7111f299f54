// Package ktask is the task management and trap dispatch core of a small
// multiprocessor kernel, running on a simulated platform.
//
// A Service boots the whole machine: physical page pool, kernel address
// space, task table, per-CPU run queues, the vector table with its default
// gates, the timer, keyboard and system call handlers, and the first task on
// every processor. The boot CPU starts the user program; the others start in
// the idle loop and pick up forked work.
//
//	srv, _ := ktask.New(ctx, ktask.WithConfig(cfg))
//	defer srv.Close(ctx)
//	_ = srv.Runtime().Run(ctx, 500)
//	fmt.Println(srv.Stats())
//
// User programs are small scripts (see package program) whose statements are
// issued as system calls through the same trap path hardware would take.
package ktask
