// Package adb provides Android device support by shelling out to the adb
// binary: uiautomator dumps for reading, input and am for acting, screencap
// for screenshots, and dumpsys for notifications.
package adb
