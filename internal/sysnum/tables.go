package sysnum

// Syscall numbers for the x86-64 native ABI.
var tableAMD64 = map[uint64]Call{
	2:   {OpOpen, "open"},
	3:   {OpClose, "close"},
	4:   {OpStat, "stat"},
	6:   {OpLStat, "lstat"},
	21:  {OpAccess, "access"},
	56:  {OpClone, "clone"},
	57:  {OpClone, "fork"},
	58:  {OpClone, "vfork"},
	59:  {OpExec, "execve"},
	60:  {OpExit, "exit"},
	80:  {OpChdir, "chdir"},
	81:  {OpFchdir, "fchdir"},
	82:  {OpRename, "rename"},
	83:  {OpMkdir, "mkdir"},
	85:  {OpOpen, "creat"},
	87:  {OpUnlink, "unlink"},
	89:  {OpReadlink, "readlink"},
	231: {OpExit, "exit_group"},
	257: {OpOpenAt, "openat"},
	258: {OpMkdirAt, "mkdirat"},
	262: {OpStatAt, "newfstatat"},
	263: {OpUnlinkAt, "unlinkat"},
	264: {OpRenameAt, "renameat"},
	267: {OpReadlinkAt, "readlinkat"},
	269: {OpAccessAt, "faccessat"},
	316: {OpRenameAt, "renameat2"},
	322: {OpExecAt, "execveat"},
	435: {OpClone, "clone3"},
	439: {OpAccessAt, "faccessat2"},
}

// Syscall numbers for the legacy i386 ABI.
var table386 = map[uint64]Call{
	1:   {OpExit, "exit"},
	2:   {OpClone, "fork"},
	5:   {OpOpen, "open"},
	6:   {OpClose, "close"},
	8:   {OpOpen, "creat"},
	10:  {OpUnlink, "unlink"},
	11:  {OpExec, "execve"},
	12:  {OpChdir, "chdir"},
	33:  {OpAccess, "access"},
	38:  {OpRename, "rename"},
	39:  {OpMkdir, "mkdir"},
	85:  {OpReadlink, "readlink"},
	106: {OpStat, "stat"},
	107: {OpLStat, "lstat"},
	120: {OpClone, "clone"},
	133: {OpFchdir, "fchdir"},
	190: {OpClone, "vfork"},
	195: {OpStat, "stat64"},
	196: {OpLStat, "lstat64"},
	252: {OpExit, "exit_group"},
	295: {OpOpenAt, "openat"},
	296: {OpMkdirAt, "mkdirat"},
	300: {OpStatAt, "fstatat64"},
	301: {OpUnlinkAt, "unlinkat"},
	302: {OpRenameAt, "renameat"},
	305: {OpReadlinkAt, "readlinkat"},
	307: {OpAccessAt, "faccessat"},
	353: {OpRenameAt, "renameat2"},
	358: {OpExecAt, "execveat"},
	435: {OpClone, "clone3"},
	439: {OpAccessAt, "faccessat2"},
}

// x32 deviations from the shared 64-bit numbering. Only calls with
// pointer-bearing argument structs got renumbered into the 512+ range.
var tableX32 = map[uint64]Call{
	520: {OpExec, "execve"},
	545: {OpExecAt, "execveat"},
}
