package main

// Version is the ntun release version.
const Version = "1.0.0"
